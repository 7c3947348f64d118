package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"ChatRelay/internal/history"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Handler выполняет блокирующую обработку сообщения и возвращает текст ответа.
type Handler interface {
	Handle(ctx context.Context, id history.ConversationID, text string) string
}

// ReplyFunc отправляет ответ в исходный чат платформы.
type ReplyFunc func(ctx context.Context, text string) error

// Message — входящее сообщение платформы.
type Message struct {
	ConversationID history.ConversationID
	Text           string
	Reply          ReplyFunc
}

// Stats — счётчики для /stats.
type Stats struct {
	Queued    int   `json:"queued"`
	InFlight  int64 `json:"in_flight"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher выносит запросы к модели из цикла событий платформы в пул воркеров,
// чтобы медленный ответ одного диалога не задерживал остальные.
// У каждого диалога не больше одной задачи в пуле: следующие сообщения диалога
// ждут в его собственной очереди и слот воркера не занимают.
type Dispatcher struct {
	handler    Handler
	logger     *zap.SugaredLogger
	queue      chan job
	queueSize  int64
	maxWorkers int
	busyText   string

	mu sync.Mutex
	// ключ есть — диалог обрабатывается; значение — отложенные сообщения по порядку
	active map[history.ConversationID][]job

	pending   atomic.Int64
	inFlight  atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

type job struct {
	msg       Message
	requestID string
	queuedAt  time.Time
	release   func()
}

// New создаёт диспетчер. busyText уходит пользователю, если очередь переполнена.
func New(handler Handler, logger *zap.SugaredLogger, maxWorkers, queueSize int, busyText string) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		handler:    handler,
		logger:     logger,
		queue:      make(chan job, queueSize),
		queueSize:  int64(queueSize),
		maxWorkers: maxWorkers,
		active:     make(map[history.ConversationID][]job),
		busyText:   busyText,
	}
}

// Submit ставит сообщение в очередь, не блокируя вызывающего.
// Возвращает false, если очередь полна и сообщение отброшено.
// Очередь общая: в лимит входят и сообщения, отложенные внутри диалогов.
func (d *Dispatcher) Submit(ctx context.Context, msg Message) bool {
	j := job{msg: msg, requestID: uuid.NewString(), queuedAt: time.Now()}
	if d.pending.Add(1) <= d.queueSize {
		select {
		case d.queue <- j:
			return true
		default:
		}
	}
	d.pending.Add(-1)
	d.dropped.Add(1)
	d.logger.Warnw("Очередь сообщений переполнена, сообщение отброшено", "conversation", msg.ConversationID, "request_id", j.requestID)
	if d.busyText != "" && msg.Reply != nil {
		// отправка идёт по сети: цикл приёма платформы ждать её не должен
		go func() {
			if err := msg.Reply(ctx, d.busyText); err != nil {
				d.logger.Warnw("Не удалось отправить уведомление о перегрузке", "conversation", msg.ConversationID, "error", err)
			}
		}()
	}
	return false
}

// Release вызывает fn, когда обработаны все принятые ранее сообщения диалога.
// Блокируется, пока в очереди нет места, или до отмены ctx (тогда fn не вызывается).
func (d *Dispatcher) Release(ctx context.Context, id history.ConversationID, fn func()) {
	select {
	case d.queue <- job{msg: Message{ConversationID: id}, release: fn}:
	case <-ctx.Done():
	}
}

// Run разбирает очередь до отмены ctx, затем дожидается запущенных воркеров.
func (d *Dispatcher) Run(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(d.maxWorkers)
	d.logger.Infow("Dispatcher started", "workers", d.maxWorkers, "queue", cap(d.queue))
	for {
		select {
		case <-ctx.Done():
			p.Wait()
			d.logger.Infow("Dispatcher stopped", "processed", d.processed.Load(), "dropped", d.dropped.Load())
			return context.Cause(ctx)
		case j := <-d.queue:
			if d.hold(j) {
				continue
			}
			p.Go(func() { d.drain(ctx, j) })
		}
	}
}

// hold откладывает задачу, если её диалог уже обрабатывается.
// Иначе помечает диалог активным, и задачу нужно отдать в пул.
func (d *Dispatcher) hold(j job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := j.msg.ConversationID
	if held, busy := d.active[id]; busy {
		d.active[id] = append(held, j)
		return true
	}
	d.active[id] = nil
	return false
}

// next достаёт следующую отложенную задачу диалога или снимает с него пометку активного.
func (d *Dispatcher) next(id history.ConversationID) (job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	held := d.active[id]
	if len(held) == 0 {
		delete(d.active, id)
		return job{}, false
	}
	d.active[id] = held[1:]
	return held[0], true
}

// drain обрабатывает задачи одного диалога по порядку, пока они есть.
func (d *Dispatcher) drain(ctx context.Context, j job) {
	for {
		if j.release != nil {
			j.release()
		} else {
			d.pending.Add(-1)
			if ctx.Err() == nil {
				d.process(ctx, j)
			}
		}
		var ok bool
		if j, ok = d.next(j.msg.ConversationID); !ok {
			return
		}
	}
}

// Stats возвращает текущие счётчики.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    int(d.pending.Load()),
		InFlight:  d.inFlight.Load(),
		Processed: d.processed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	log := d.logger.With("conversation", j.msg.ConversationID, "request_id", j.requestID)
	d.inFlight.Add(1)
	defer func() {
		d.inFlight.Add(-1)
		d.processed.Add(1)
		if r := recover(); r != nil {
			log.Errorw("Паника при обработке сообщения", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	reply := d.handler.Handle(ctx, j.msg.ConversationID, j.msg.Text)
	if ctx.Err() != nil {
		log.Infow("Остановка: ответ не отправлен", "cause", context.Cause(ctx))
		return
	}
	if j.msg.Reply == nil {
		return
	}
	if err := j.msg.Reply(ctx, reply); err != nil {
		log.Errorw("Не удалось отправить ответ", "error", err)
		return
	}
	log.Debugw("Сообщение обработано", "wait", start.Sub(j.queuedAt).String(), "duration", time.Since(start).String())
}
