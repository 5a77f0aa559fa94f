package domain

import "fmt"

// Mode описывает текущий сценарий пользователя. Реализации закрыты в пакете.
type Mode interface {
	// Encode возвращает имя режима и шаг для хранения.
	Encode() (string, int)
	isMode()
}

// ModeNone пользователь вне сценариев.
type ModeNone struct{}

// ModeQuiz пользователь проходит анкету.
type ModeQuiz struct{ Stage QuizStage }

// ModeDialog пользователь задаёт вопросы консультанту.
type ModeDialog struct{}

// ModeInvest диалог об инвестиционных объектах.
type ModeInvest struct{}

// ModeSales короткая воронка заказа звонка.
type ModeSales struct{ Step int }

func (ModeNone) Encode() (string, int)    { return "none", 0 }
func (m ModeQuiz) Encode() (string, int)  { return "quiz", int(m.Stage) }
func (ModeDialog) Encode() (string, int)  { return "dialog", 0 }
func (ModeInvest) Encode() (string, int)  { return "invest", 0 }
func (m ModeSales) Encode() (string, int) { return "sales", m.Step }
func (ModeNone) isMode()                  {}
func (ModeQuiz) isMode()                  {}
func (ModeDialog) isMode()                {}
func (ModeInvest) isMode()                {}
func (ModeSales) isMode()                 {}

// ParseMode восстанавливает режим из хранимого представления.
func ParseMode(name string, step int) (Mode, error) {
	switch name {
	case "", "none":
		return ModeNone{}, nil
	case "quiz":
		return ModeQuiz{Stage: QuizStage(step)}, nil
	case "dialog":
		return ModeDialog{}, nil
	case "invest":
		return ModeInvest{}, nil
	case "sales":
		return ModeSales{Step: step}, nil
	}
	return nil, fmt.Errorf("неизвестный режим %q", name)
}

// ModeName короткое имя режима для логов.
func ModeName(m Mode) string {
	if m == nil {
		return "none"
	}
	name, _ := m.Encode()
	return name
}

// QuizStage состояние автомата анкеты.
type QuizStage int

const (
	StageAwaitConsent QuizStage = iota
	StageAwaitContact
	StageAwaitNameConfirm
	StageCity
	StageType
	StageFloor
	StageArea
	StageStatus
	StageDescription
	StageAttachment
	StageSealed
)

// QuizQuestions количество вопросов анкеты.
const QuizQuestions = 7

var stageNames = map[QuizStage]string{
	StageAwaitConsent:     "AWAIT_CONSENT",
	StageAwaitContact:     "AWAIT_CONTACT",
	StageAwaitNameConfirm: "AWAIT_NAME_CONFIRM",
	StageCity:             "Q1_CITY",
	StageType:             "Q2_TYPE",
	StageFloor:            "Q3_FLOOR",
	StageArea:             "Q4_AREA",
	StageStatus:           "Q5_STATUS",
	StageDescription:      "Q6_DESCRIPTION",
	StageAttachment:       "Q7_ATTACHMENT",
	StageSealed:           "SEALED",
}

func (s QuizStage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STAGE_%d", int(s))
}

// Question возвращает номер вопроса 1..7 или 0 для служебных состояний.
func (s QuizStage) Question() int {
	if s >= StageCity && s <= StageAttachment {
		return int(s-StageCity) + 1
	}
	return 0
}

// StageForQuestion обратное отображение номера вопроса в состояние.
func StageForQuestion(q int) QuizStage {
	if q < 1 {
		return StageAwaitContact
	}
	if q > QuizQuestions {
		return StageSealed
	}
	return StageCity + QuizStage(q-1)
}
