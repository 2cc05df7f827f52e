package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// BreakerSuite drives the breaker the way the status publisher does: Allow before
// each produce, then RecordFailure or RecordSuccess with the broker outcome.
type BreakerSuite struct {
	suite.Suite
	now     time.Time
	breaker *Breaker
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.breaker = New("status-producer",
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithCooldown(30*time.Second),
		WithClock(func() time.Time { return s.now }),
	)
}

// publish mimics one emission: it reports whether the broker was reached and
// what transition the outcome caused.
func (s *BreakerSuite) publish(brokerUp bool) (bool, StateChange) {
	if !s.breaker.Allow() {
		return false, StateChange{}
	}
	if !brokerUp {
		_, change := s.breaker.RecordFailure()
		return true, change
	}
	_, change := s.breaker.RecordSuccess()
	return true, change
}

func (s *BreakerSuite) open() {
	for range 3 {
		s.publish(false)
	}
	s.Require().True(s.breaker.IsOpen())
}

func (s *BreakerSuite) TestClosedBreakerPublishes() {
	s.Equal("status-producer", s.breaker.Name())
	s.Equal(StateClosed, s.breaker.State())

	reached, change := s.publish(true)
	s.True(reached)
	s.Equal(StateChange{}, change)
}

func (s *BreakerSuite) TestOpensAfterConsecutiveBrokerFailures() {
	for i := range 2 {
		reached, change := s.publish(false)
		s.True(reached, "failure %d still reaches the broker", i+1)
		s.False(change.Opened)
	}

	reached, change := s.publish(false)
	s.True(reached)
	s.True(change.Opened)
	s.True(s.breaker.IsOpen())
}

func (s *BreakerSuite) TestIntermittentFailuresKeepBreakerClosed() {
	s.publish(false)
	s.publish(false)
	s.publish(true)
	s.publish(false)
	s.publish(false)

	s.False(s.breaker.IsOpen(), "a delivered emission resets the failure run")
}

func (s *BreakerSuite) TestOpenBreakerDropsEmissions() {
	s.open()

	for range 5 {
		reached, _ := s.publish(true)
		s.False(reached, "emissions are dropped while the cooldown runs")
	}
	s.now = s.now.Add(29 * time.Second)
	reached, _ := s.publish(true)
	s.False(reached)
}

func (s *BreakerSuite) TestTrialPublishAfterCooldown() {
	s.open()
	s.now = s.now.Add(30 * time.Second)

	s.Run("one trial per window", func() {
		reached, change := s.publish(true)
		s.True(reached)
		s.False(change.Closed, "one success is below the threshold")

		reached, _ = s.publish(true)
		s.False(reached, "the trial restarted the cooldown window")
	})

	s.Run("second successful trial closes", func() {
		s.now = s.now.Add(30 * time.Second)
		reached, change := s.publish(true)
		s.True(reached)
		s.True(change.Closed)
		s.False(s.breaker.IsOpen())

		reached, _ = s.publish(true)
		s.True(reached, "closed breaker publishes without waiting")
	})
}

func (s *BreakerSuite) TestFailedTrialStaysOpen() {
	s.open()

	s.now = s.now.Add(30 * time.Second)
	reached, change := s.publish(true)
	s.Require().True(reached)
	s.Require().False(change.Closed)

	s.now = s.now.Add(30 * time.Second)
	reached, change = s.publish(false)
	s.True(reached)
	s.False(change.Opened, "already open")
	s.True(s.breaker.IsOpen())

	s.now = s.now.Add(30 * time.Second)
	_, change = s.publish(true)
	s.False(change.Closed, "the failed trial reset the success run")
	s.True(s.breaker.IsOpen())
}

func (s *BreakerSuite) TestResetClosesImmediately() {
	s.open()

	s.breaker.Reset()

	reached, _ := s.publish(true)
	s.True(reached)
	s.Equal(StateClosed, s.breaker.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
}
