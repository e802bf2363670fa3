package controller

import (
	"ImagenStudio/internal/imagegen"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Status состояние единственного слота запроса.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrBusy возвращается, если предыдущий запрос ещё выполняется.
var ErrBusy = errors.New("generation already in progress")

// Generator порт клиента генерации.
type Generator interface {
	Generate(ctx context.Context, prompt string, model imagegen.Model, apiKey string) (imagegen.Result, error)
}

// Snapshot копия состояния для отрисовки. Результат и ошибка взаимоисключающие.
type Snapshot struct {
	Status     Status         `json:"status"`
	Prompt     string         `json:"prompt"`
	Model      imagegen.Model `json:"model"`
	ImageURL   string         `json:"imageUrl,omitempty"`
	Command    string         `json:"command,omitempty"`
	APIKey     string         `json:"apiKey,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  imagegen.Kind  `json:"errorKind,omitempty"`
	Validation string         `json:"validation,omitempty"`
	Seq        uint64         `json:"seq"`
}

// InputsDisabled поле ввода, селектор и кнопка заблокированы на время запроса.
func (s Snapshot) InputsDisabled() bool { return s.Status == StatusLoading }

const subscriberBuffer = 4

// Controller держит состояние одной сессии и пропускает через клиент не больше одного запроса.
type Controller struct {
	gen       Generator
	keyPolicy imagegen.KeyPolicy
	logger    *zap.SugaredLogger

	mu     sync.Mutex
	state  Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// New создаёт контроллер в состоянии idle с выбранной моделью по умолчанию.
// keyPolicy определяет, в каком виде ключ попадает в снимок.
func New(gen Generator, defaultModel imagegen.Model, keyPolicy imagegen.KeyPolicy, logger *zap.SugaredLogger) *Controller {
	if !defaultModel.Supported() {
		defaultModel = imagegen.ModelImagen
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		gen:       gen,
		keyPolicy: keyPolicy,
		logger:    logger,
		state:     Snapshot{Status: StatusIdle, Model: defaultModel},
		subs:      make(map[int]chan Snapshot),
	}
}

// Snapshot возвращает текущее состояние.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectModel меняет модель для следующих запросов. Во время загрузки селектор заблокирован.
func (c *Controller) SelectModel(model imagegen.Model) error {
	if !model.Supported() {
		return fmt.Errorf("unsupported model %q", model)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == StatusLoading {
		return ErrBusy
	}
	if c.state.Model != model {
		c.state.Model = model
		c.publishLocked()
	}
	return nil
}

// Subscribe возвращает канал снимков и функцию отписки. Медленный подписчик теряет
// промежуточные снимки, но всегда получает последний.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Submit выполняет один запрос генерации и блокирует до его завершения.
// Пустая модель означает текущую выбранную.
func (c *Controller) Submit(ctx context.Context, prompt string, model imagegen.Model, apiKey string) (Snapshot, error) {
	c.mu.Lock()
	if c.state.Status == StatusLoading {
		c.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	if err := imagegen.ValidatePrompt(prompt); err != nil {
		// Сообщение валидации заменяет прежнюю ошибку: на странице видно одно сообщение.
		if c.state.Status == StatusFailure {
			c.state.Status = StatusIdle
		}
		c.state.Error, c.state.ErrorKind = "", ""
		c.state.Prompt = prompt
		c.state.Validation = err.Error()
		snap := c.publishLocked()
		c.mu.Unlock()
		c.logger.Infow("Submission rejected", "reason", err)
		return snap, err
	}
	if model == "" {
		model = c.state.Model
	}

	c.state.Status = StatusLoading
	c.state.Prompt = prompt
	c.state.Model = model
	c.state.ImageURL, c.state.Command, c.state.APIKey = "", "", ""
	c.state.Error, c.state.ErrorKind, c.state.Validation = "", "", ""
	c.publishLocked()
	c.mu.Unlock()

	res, err := c.call(ctx, prompt, model, apiKey)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state.Status = StatusFailure
		c.state.Error = err.Error()
		c.state.ErrorKind = imagegen.KindOf(err)
		c.logger.Warnw("Generation failed", "model", model, "kind", c.state.ErrorKind, "error", err)
	} else {
		c.state.Status = StatusSuccess
		c.state.ImageURL = res.ImageURL
		c.state.Command = res.Command
		c.state.APIKey = c.keyPolicy.Visible(res.APIKey)
	}
	return c.publishLocked(), err
}

// call не даёт панике клиента оставить контроллер в состоянии loading.
func (c *Controller) call(ctx context.Context, prompt string, model imagegen.Model, apiKey string) (res imagegen.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorw("Generator panicked", "model", model, "panic", r)
			res, err = imagegen.Result{}, imagegen.UnknownError(fmt.Errorf("panic: %v", r))
		}
	}()
	res, err = c.gen.Generate(ctx, prompt, model, apiKey)
	if err != nil {
		var ge *imagegen.Error
		if !errors.As(err, &ge) {
			err = imagegen.Classify(err)
		}
	}
	return res, err
}

func (c *Controller) publishLocked() Snapshot {
	c.state.Seq++
	snap := c.state
	for _, ch := range c.subs {
		offer(ch, snap)
	}
	return snap
}

// offer кладёт снимок в канал, при переполнении выбрасывая самый старый.
func offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
