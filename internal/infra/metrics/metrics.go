package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	LeadsSealed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leads_sealed_total",
		Help: "Запечатанные анкеты по типу объекта",
	}, []string{"object_type"})

	ContentPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "content_posts_total",
		Help: "Отправленные посты по площадке и результату",
	}, []string{"channel", "status"})

	HunterCandidates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunter_candidates_total",
		Help: "Сообщения, прошедшие фильтры охотника",
	})

	HunterObservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hunter_observations_total",
		Help: "Сохранённые наблюдения охотника по способу оценки",
	}, []string{"scored_by"})

	HunterHotLeads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hunter_hot_leads_total",
		Help: "Горячие лиды охотника",
	})

	MailboxDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "router_mailbox_drops_total",
		Help: "События, вытесненные из переполненного почтового ящика",
	})

	TaskRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_task_restarts_total",
		Help: "Перезапуски фоновых задач",
	}, []string{"task"})
)

var registerOnce sync.Once

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		LeadsSealed,
		ContentPublished,
		HunterCandidates,
		HunterObservations,
		HunterHotLeads,
		MailboxDrops,
		TaskRestarts,
	)
}

// RegisterDefault регистрирует метрики в глобальном реестре один раз за процесс.
func RegisterDefault() {
	registerOnce.Do(func() { MustRegister(prometheus.DefaultRegisterer) })
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// IncLeadSealed учитывает запечатанную анкету.
func IncLeadSealed(objectType string) {
	LeadsSealed.WithLabelValues(objectType).Inc()
}

// IncPost учитывает результат отправки поста.
func IncPost(channel, status string) {
	ContentPublished.WithLabelValues(channel, status).Inc()
}
