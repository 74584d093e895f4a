package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotificationMissing - в payload нет объекта notification, уведомление не показывается.
	ErrNotificationMissing = errors.New("push payload has no notification")
	// ErrEnumerate - не удалось получить список открытых вкладок.
	ErrEnumerate = errors.New("failed to enumerate foreground contexts")
	// ErrDisplayFailed - платформа не приняла запрос на показ уведомления.
	ErrDisplayFailed = errors.New("failed to display notification")
)

// ClientType - тип открытого контекста.
type ClientType string

const (
	ClientTypeWindow ClientType = "window"
	ClientTypeWorker ClientType = "worker"
	ClientTypeAll    ClientType = "all"
)

// ForegroundContext - открытый пользователем контекст (вкладка), способный принять сообщение.
type ForegroundContext interface {
	ID() string
	UserID() string
	Type() ClientType
	Controlled() bool
	// PostMessage ставит сообщение в очередь контекста и не блокируется.
	// false означает, что контекст закрывается или его очередь переполнена.
	PostMessage(msg []byte) bool
}

// MatchOptions - фильтр для перечисления контекстов.
type MatchOptions struct {
	Type                ClientType
	IncludeUncontrolled bool
	UserID              string // Пусто = контексты всех пользователей
}

// ContextEnumerator перечисляет открытые контексты.
type ContextEnumerator interface {
	MatchAll(ctx context.Context, opts MatchOptions) ([]ForegroundContext, error)
}

// NotificationOptions - параметры показываемого уведомления.
type NotificationOptions struct {
	Body  string
	Image string
	Data  map[string]string
}

// DisplayNotification - запрос на показ системного уведомления.
type DisplayNotification struct {
	UserID  string
	Title   string
	Options NotificationOptions
}

// NotificationPresenter показывает системные уведомления.
type NotificationPresenter interface {
	ShowNotification(ctx context.Context, n DisplayNotification) error
}

// MissingNotificationPolicy определяет поведение для payload без notification.
type MissingNotificationPolicy string

const (
	// MissingNotificationReject - уведомление не показывается, Handle возвращает ErrNotificationMissing.
	MissingNotificationReject MissingNotificationPolicy = "reject"
	// MissingNotificationDisplay - уведомление показывается с пустыми заголовком и текстом.
	MissingNotificationDisplay MissingNotificationPolicy = "display"
)

// Options - настройки Relay.
type Options struct {
	MissingNotification MissingNotificationPolicy
}

// Result описывает выполненный Handle.
type Result struct {
	Matched   int  // Сколько контекстов найдено
	Forwarded int  // Скольким контекстам сообщение поставлено в очередь
	Displayed bool // Был ли отправлен запрос на показ уведомления
}

// Relay пересылает push-сообщения открытым вкладкам и показывает системное уведомление.
type Relay struct {
	contexts  ContextEnumerator
	presenter NotificationPresenter
	logger    *zap.Logger
	metrics   *Metrics
	opts      Options
}

// New создает Relay. metrics может быть nil.
func New(contexts ContextEnumerator, presenter NotificationPresenter, logger *zap.Logger, metrics *Metrics, opts Options) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MissingNotification == "" {
		opts.MissingNotification = MissingNotificationReject
	}
	return &Relay{
		contexts:  contexts,
		presenter: presenter,
		logger:    logger.Named("relay"),
		metrics:   metrics,
		opts:      opts,
	}
}

// Handle пересылает payload всем открытым вкладкам, затем запрашивает показ уведомления.
// Возвращается только после того, как оба шага завершены.
func (r *Relay) Handle(ctx context.Context, payload PushPayload) (Result, error) {
	start := time.Now()
	log := r.logger.With(zap.String("user_id", payload.UserID))

	res, err := r.handle(ctx, log, payload)

	r.metrics.observeHandle(time.Since(start), err)
	if err != nil {
		log.Warn("Push-сообщение обработано с ошибкой",
			zap.Error(err),
			zap.Int("matched", res.Matched),
			zap.Int("forwarded", res.Forwarded))
		return res, err
	}
	log.Info("Push-сообщение обработано",
		zap.Int("matched", res.Matched),
		zap.Int("forwarded", res.Forwarded),
		zap.Bool("displayed", res.Displayed))
	return res, nil
}

func (r *Relay) handle(ctx context.Context, log *zap.Logger, payload PushPayload) (Result, error) {
	var res Result

	// 1. Пересылка во все открытые вкладки
	clients, err := r.contexts.MatchAll(ctx, MatchOptions{
		Type:                ClientTypeWindow,
		IncludeUncontrolled: true,
		UserID:              payload.UserID,
	})
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrEnumerate, err)
	}
	res.Matched = len(clients)

	for _, c := range clients {
		if c.PostMessage(payload.Raw) {
			res.Forwarded++
			r.metrics.forwarded(true)
			continue
		}
		r.metrics.forwarded(false)
		log.Debug("Вкладка не приняла сообщение (закрывается или очередь переполнена)", zap.String("client_id", c.ID()))
	}

	// 2. Показ уведомления
	n, err := r.buildNotification(payload)
	if err != nil {
		r.metrics.notification(notificationSkipped)
		return res, err
	}

	if err := r.presenter.ShowNotification(ctx, n); err != nil {
		r.metrics.notification(notificationFailed)
		return res, fmt.Errorf("%w: %w", ErrDisplayFailed, err)
	}
	res.Displayed = true
	r.metrics.notification(notificationShown)
	return res, nil
}

func (r *Relay) buildNotification(payload PushPayload) (DisplayNotification, error) {
	n := DisplayNotification{
		UserID: payload.UserID,
		Options: NotificationOptions{
			Data: payload.StringData(),
		},
	}

	if !payload.Displayable() {
		if r.opts.MissingNotification != MissingNotificationDisplay {
			return DisplayNotification{}, ErrNotificationMissing
		}
		r.logger.Warn("В payload нет notification, показываем пустое уведомление", zap.String("user_id", payload.UserID))
		return n, nil
	}

	if t := payload.Notification.Title; t != nil {
		n.Title = *t
	}
	if s := payload.Notification.Summary; s != nil {
		n.Options.Body = *s
	}
	if img := payload.Notification.Image; img != nil {
		n.Options.Image = *img
	}
	return n, nil
}

// Completion - незавершенная обработка push-сообщения.
type Completion struct {
	done chan struct{}
	res  Result
	err  error
}

// Dispatch запускает Handle в отдельной горутине.
func (r *Relay) Dispatch(ctx context.Context, payload PushPayload) *Completion {
	c := &Completion{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		c.res, c.err = r.Handle(ctx, payload)
	}()
	return c
}

// Done закрывается, когда обработка завершена.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait ждет завершения обработки или отмены ctx.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.res, c.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
