package models

// ShortName categorizes a question.
type ShortName string

const (
	ShortNameWorkSituation    ShortName = "WORK_SITUATION"
	ShortNameNewClosestLeader ShortName = "NEW_CLOSEST_LEADER"
	ShortNameAbsence          ShortName = "ABSENCE"
	ShortNamePeriod           ShortName = "PERIOD"
	ShortNameInsurance        ShortName = "INSURANCE"
)

func (s ShortName) IsValid() bool {
	switch s {
	case ShortNameWorkSituation, ShortNameNewClosestLeader, ShortNameAbsence, ShortNamePeriod, ShortNameInsurance:
		return true
	}
	return false
}

// AnswerType describes how an answer value is encoded.
type AnswerType string

const (
	AnswerTypeWorkSituation AnswerType = "WORK_SITUATION"
	AnswerTypePeriod        AnswerType = "PERIOD"
	AnswerTypeYesNo         AnswerType = "YES_NO"
)

func (a AnswerType) IsValid() bool {
	switch a {
	case AnswerTypeWorkSituation, AnswerTypePeriod, AnswerTypeYesNo:
		return true
	}
	return false
}

// Question is deduplicated in storage by (ShortName, Text); Answer is stored per certificate.
type Question struct {
	Text      string
	ShortName ShortName
	Answer    Answer
}

// Answer is the holder's reply to a Question.
type Answer struct {
	Type  AnswerType
	Value string
}
