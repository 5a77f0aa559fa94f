package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
	"remont-lead-bot/internal/usecase/menu"
)

// Store данные, с которыми работает анкета.
type Store interface {
	domain.UserRepo
	domain.QuizRepo
}

// Config параметры анкеты.
type Config struct {
	// DefaultSource метка источника, если у пользователя она не задана.
	DefaultSource string
	MiniAppURL    string
}

// Service автомат анкеты. Вызовы для одного пользователя должны быть сериализованы вызывающим.
type Service struct {
	store     Store
	messenger domain.Messenger
	speech    domain.SpeechRecognizer
	notify    domain.NotificationPublisher
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

// NewService создаёт автомат. speech может быть nil: тогда голосовые ответы просим продублировать текстом.
func NewService(store Store, messenger domain.Messenger, speech domain.SpeechRecognizer, notify domain.NotificationPublisher, cfg Config, log zerolog.Logger) *Service {
	return &Service{store: store, messenger: messenger, speech: speech, notify: notify, cfg: cfg, now: time.Now, log: log}
}

// AskConsent отправляет запрос согласия на обработку данных.
func (s *Service) AskConsent(ctx context.Context, ev domain.InboundEvent) error {
	return s.send(ctx, ev.ChatID, "Здравствуйте! Мы помогаем согласовать перепланировку квартиры, дома или коммерческого помещения.\n\n"+
		"Чтобы подобрать решение, зададим 7 коротких вопросов. Для этого нужно ваше согласие на обработку персональных данных. "+
		"Нажмите «"+menu.ButtonConsent+"», чтобы продолжить.", menu.Consent())
}

// Consent обрабатывает ответ на запрос согласия. Любой ответ, кроме фразы согласия, останавливает сценарий без записи.
func (s *Service) Consent(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	if !menu.IsConsent(ev.Text) {
		return s.send(ctx, ev.ChatID, "Без согласия мы не можем продолжить. Если передумаете, отправьте /start.", menu.Remove())
	}
	if err := s.store.GrantConsent(ctx, user.ID, s.now(), domain.ModeQuiz{Stage: domain.StageAwaitContact}); err != nil {
		return fmt.Errorf("quiz: согласие: %w", err)
	}
	s.log.Info().Int64("user", user.ExternalID).Msg("quiz: получено согласие")
	return s.prompt(ctx, ev, domain.StageAwaitContact)
}

// Start начинает анкету заново. Если телефон уже известен, сразу задаётся первый вопрос.
func (s *Service) Start(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	stage := domain.StageCity
	if user.Phone == "" {
		stage = domain.StageAwaitContact
	}
	if err := s.store.StartQuiz(ctx, user.ID, stage); err != nil {
		return fmt.Errorf("quiz: старт: %w", err)
	}
	return s.prompt(ctx, ev, stage)
}

// Escalate переводит пользователя из диалога сразу к первому вопросу анкеты.
func (s *Service) Escalate(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	if err := s.store.StartQuiz(ctx, user.ID, domain.StageCity); err != nil {
		return fmt.Errorf("quiz: эскалация: %w", err)
	}
	return s.prompt(ctx, ev, domain.StageCity)
}

// Remind напоминает о незаконченной анкете и повторяет текущий вопрос.
func (s *Service) Remind(ctx context.Context, user domain.User) error {
	quiz, ok := user.Mode.(domain.ModeQuiz)
	if !ok {
		return nil
	}
	ev := domain.InboundEvent{UserExternalID: user.ExternalID, ChatID: user.ExternalID}
	if err := s.send(ctx, ev.ChatID, "Вы не закончили анкету. Осталось совсем немного, продолжим?", nil); err != nil {
		return err
	}
	return s.prompt(ctx, ev, quiz.Stage)
}

// Handle обрабатывает ответ пользователя в режиме анкеты.
func (s *Service) Handle(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	quiz, ok := user.Mode.(domain.ModeQuiz)
	if !ok {
		return fmt.Errorf("%w: пользователь не в анкете", domain.ErrIllegalTransition)
	}
	if ev.Kind == domain.EventVoice {
		text, ok := s.transcribe(ctx, user, ev)
		if !ok {
			return s.send(ctx, ev.ChatID, "Не получилось распознать голосовое сообщение. Пожалуйста, напишите ответ текстом.", nil)
		}
		ev.Kind, ev.Text = domain.EventText, text
	}
	switch quiz.Stage {
	case domain.StageAwaitContact:
		return s.handleContact(ctx, user, ev)
	case domain.StageAwaitNameConfirm:
		return s.handleName(ctx, user, ev)
	case domain.StageSealed:
		return s.seal(ctx, user, ev)
	}
	step := quiz.Stage.Question()
	if step == 0 {
		return fmt.Errorf("%w: неизвестное состояние %s", domain.ErrIllegalTransition, quiz.Stage)
	}
	value, hint := answer(quiz.Stage, ev)
	if hint != "" {
		return s.reprompt(ctx, ev, quiz.Stage, hint)
	}
	if _, err := s.store.AppendQuizAnswer(ctx, user.ID, step, value); err != nil {
		switch {
		case errors.Is(err, domain.ErrOutOfOrder), errors.Is(err, domain.ErrValidation):
			s.log.Warn().Err(err).Int64("user", user.ExternalID).Int("step", step).Msg("quiz: ответ отклонён")
			return s.reprompt(ctx, ev, quiz.Stage, "Давайте вернёмся к текущему вопросу.")
		default:
			return fmt.Errorf("quiz: ответ %d: %w", step, err)
		}
	}
	if step == domain.QuizQuestions {
		return s.seal(ctx, user, ev)
	}
	return s.prompt(ctx, ev, domain.StageForQuestion(step+1))
}

func (s *Service) handleContact(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	if ev.Kind == domain.EventContact && ev.Contact != nil {
		if ev.Contact.UserID != 0 && ev.Contact.UserID != ev.UserExternalID {
			return s.reprompt(ctx, ev, domain.StageAwaitContact, "Пожалуйста, поделитесь своим контактом.")
		}
		phone, ok := domain.ParsePhone(ev.Contact.Phone)
		if !ok {
			return s.reprompt(ctx, ev, domain.StageAwaitContact, "Не удалось прочитать номер из контакта.")
		}
		name := strings.TrimSpace(ev.Contact.FirstName + " " + ev.Contact.LastName)
		next := domain.StageCity
		if name == "" {
			next = domain.StageAwaitNameConfirm
		}
		if err := s.store.SetContact(ctx, user.ID, phone, name, domain.ModeQuiz{Stage: next}); err != nil {
			return fmt.Errorf("quiz: контакт: %w", err)
		}
		return s.prompt(ctx, ev, next)
	}
	phone, ok := domain.ParsePhone(ev.Text)
	if ev.Kind != domain.EventText || !ok {
		return s.reprompt(ctx, ev, domain.StageAwaitContact, "Не похоже на номер телефона. Пример: +7 999 111-22-33.")
	}
	if err := s.store.SetContact(ctx, user.ID, phone, "", domain.ModeQuiz{Stage: domain.StageAwaitNameConfirm}); err != nil {
		return fmt.Errorf("quiz: телефон: %w", err)
	}
	return s.prompt(ctx, ev, domain.StageAwaitNameConfirm)
}

func (s *Service) handleName(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	name := strings.TrimSpace(ev.Text)
	if ev.Kind != domain.EventText || name == "" || len([]rune(name)) > 64 {
		return s.reprompt(ctx, ev, domain.StageAwaitNameConfirm, "Напишите имя текстом.")
	}
	if err := s.store.SetContact(ctx, user.ID, user.Phone, name, domain.ModeQuiz{Stage: domain.StageCity}); err != nil {
		return fmt.Errorf("quiz: имя: %w", err)
	}
	return s.prompt(ctx, ev, domain.StageCity)
}

// seal запечатывает анкету, создаёт заявку и уведомляет сотрудников.
func (s *Service) seal(ctx context.Context, user domain.User, ev domain.InboundEvent) error {
	source := user.Source
	if source == "" {
		source = s.cfg.DefaultSource
	}
	lead, err := s.store.SealQuiz(ctx, user.ID, source)
	if err != nil {
		if errors.Is(err, domain.ErrIncomplete) {
			s.log.Warn().Int64("user", user.ExternalID).Msg("quiz: попытка запечатать неполную анкету")
			return s.Start(ctx, user, ev)
		}
		return fmt.Errorf("quiz: запечатывание: %w", err)
	}
	metrics.IncLeadSealed(string(lead.Response.ObjectType))
	s.log.Info().Int64("user", user.ExternalID).Int64("lead", lead.ID).Str("object_type", string(lead.Response.ObjectType)).Msg("quiz: заявка создана")

	if err := s.send(ctx, ev.ChatID, confirmation(lead), menu.Main(s.cfg.MiniAppURL)); err != nil {
		s.log.Error().Err(err).Int64("user", user.ExternalID).Msg("quiz: не удалось отправить подтверждение")
	}
	n := domain.Notification{
		Kind:       domain.NotifyLeadReady,
		ObjectType: lead.Response.ObjectType,
		Text:       FormatLead(lead, user),
		UserID:     user.ExternalID,
		LeadID:     lead.ID,
		Attachment: lead.Response.Attachment,
	}
	if err := s.notify.Publish(ctx, n); err != nil {
		return fmt.Errorf("quiz: уведомление о заявке %d: %w", lead.ID, err)
	}
	return nil
}

func confirmation(lead domain.Lead) string {
	if lead.Response.Status == domain.RemodelDone {
		return fmt.Sprintf("Спасибо! Заявка №%d принята.\n\nПерепланировка уже сделана: расскажем, как её узаконить, и подготовим список документов. Специалист свяжется с вами в рабочее время.", lead.ID)
	}
	return fmt.Sprintf("Спасибо! Заявка №%d принята.\n\nПерепланировка только планируется: инженер проверит идею и подскажет, что можно согласовать. Специалист свяжется с вами в рабочее время.", lead.ID)
}

// FormatLead текст карточки заявки для рабочего чата.
func FormatLead(lead domain.Lead, user domain.User) string {
	r := lead.Response
	lines := []string{
		fmt.Sprintf("🆕 Заявка №%d", lead.ID),
		"Имя: " + valueOr(lead.Name, "не указано"),
		"Телефон: " + valueOr(lead.Phone, "не указан"),
	}
	if user.Username != "" {
		lines = append(lines, "Telegram: @"+user.Username)
	}
	area := "не указана"
	if r.Area != nil {
		area = fmt.Sprintf("%g м²", *r.Area)
	}
	lines = append(lines,
		"Город: "+r.City,
		fmt.Sprintf("Объект: %s (%s)", objectTitle(r.ObjectType), r.ObjectType),
		"Этаж: "+r.Floor,
		"Площадь: "+area,
		fmt.Sprintf("Перепланировка: %s (%s)", statusTitle(r.Status), r.Status),
		"Описание: "+r.Description,
		"Источник: "+valueOr(lead.Source, "не указан"),
	)
	if r.Attachment != "" {
		lines = append(lines, "Вложение: прикреплено ниже")
	}
	return strings.Join(lines, "\n")
}

func objectTitle(t domain.ObjectType) string {
	switch t {
	case domain.ObjectResidential:
		return "квартира"
	case domain.ObjectCommercial:
		return "коммерческое помещение"
	case domain.ObjectHouse:
		return "частный дом"
	}
	return string(t)
}

func statusTitle(s domain.RemodelStatus) string {
	if s == domain.RemodelDone {
		return "уже сделана"
	}
	return "планируется"
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func (s *Service) transcribe(ctx context.Context, user domain.User, ev domain.InboundEvent) (string, bool) {
	if s.speech == nil || ev.FileID == "" {
		return "", false
	}
	audio, err := s.messenger.DownloadFile(ctx, ev.FileID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user", user.ExternalID).Msg("quiz: не удалось скачать голосовое")
		return "", false
	}
	text, err := s.speech.Recognize(ctx, audio)
	if err != nil || strings.TrimSpace(text) == "" {
		s.log.Warn().Err(err).Int64("user", user.ExternalID).Msg("quiz: голос не распознан")
		return "", false
	}
	return strings.TrimSpace(text), true
}

func (s *Service) reprompt(ctx context.Context, ev domain.InboundEvent, stage domain.QuizStage, hint string) error {
	if err := s.send(ctx, ev.ChatID, hint, nil); err != nil {
		return err
	}
	return s.prompt(ctx, ev, stage)
}

// prompt задаёт вопрос для состояния.
func (s *Service) prompt(ctx context.Context, ev domain.InboundEvent, stage domain.QuizStage) error {
	text, kb := question(stage, ev)
	return s.send(ctx, ev.ChatID, text, kb)
}

func question(stage domain.QuizStage, ev domain.InboundEvent) (string, *domain.Keyboard) {
	switch stage {
	case domain.StageAwaitContact:
		return "Поделитесь номером телефона кнопкой ниже или напишите его сообщением.", menu.Contact()
	case domain.StageAwaitNameConfirm:
		if name := strings.TrimSpace(ev.FirstName); name != "" {
			return "Как к вам обращаться?", menu.Choices(name)
		}
		return "Как к вам обращаться?", menu.Choices()
	case domain.StageCity:
		return "Вопрос 1 из 7. В каком городе находится объект?", menu.Choices()
	case domain.StageType:
		return "Вопрос 2 из 7. Какой тип объекта?", menu.Choices(optionResidential, optionCommercial, optionHouse)
	case domain.StageFloor:
		return "Вопрос 3 из 7. На каком этаже находится объект?", menu.Choices()
	case domain.StageArea:
		return "Вопрос 4 из 7. Какая площадь объекта, м²? Например: 54,5", menu.Choices(optionUnknown)
	case domain.StageStatus:
		return "Вопрос 5 из 7. Перепланировка уже сделана или только планируется?", menu.Choices(optionPlanned, optionDone)
	case domain.StageDescription:
		return "Вопрос 6 из 7. Коротко опишите, что хотите изменить.", menu.Choices()
	case domain.StageAttachment:
		return "Вопрос 7 из 7. Пришлите план помещения фото или документом либо напишите «нет».", menu.Choices(optionNo)
	}
	return "Продолжим анкету.", nil
}

func (s *Service) send(ctx context.Context, chatID int64, text string, kb *domain.Keyboard) error {
	_, err := s.messenger.SendText(ctx, domain.OutboundMessage{ChatID: chatID, Text: text, Keyboard: kb})
	if err != nil {
		return fmt.Errorf("quiz: отправка: %w", err)
	}
	return nil
}
