package dispatch

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"protomock/pkg/apperror"
	"protomock/pkg/logger"
	"protomock/pkg/metrics"
	"protomock/pkg/rules"
	"protomock/pkg/schema"
	"protomock/pkg/validation"
)

// RecvFunc отдаёт следующее входящее сообщение; io.EOF завершает поток
type RecvFunc func() (map[string]any, error)

// SendFunc отправляет один исходящий ответ; блокируется по flow control
type SendFunc func(*Response) error

// Options режимы работы диспетчера
type Options struct {
	ValidationEnabled bool
	ValidationMode    string // per_message, aggregate
	Utils             *rules.Utils
}

// Dispatcher единое ядро обработки всех четырёх форм вызова.
// Держит неизменяемые ссылки на снапшот: граф, IR, индекс правил.
type Dispatcher struct {
	registry *schema.Registry
	irs      map[string]*validation.IR
	rules    *rules.Index
	engine   *validation.Engine
	counters *metrics.Counters
	opts     Options
}

// New создаёт диспетчер поверх готового снапшота
func New(
	registry *schema.Registry,
	irs map[string]*validation.IR,
	index *rules.Index,
	engine *validation.Engine,
	counters *metrics.Counters,
	opts Options,
) *Dispatcher {
	if counters == nil {
		counters = metrics.Default()
	}
	if opts.Utils == nil {
		opts.Utils = rules.DefaultUtils()
	}
	return &Dispatcher{
		registry: registry,
		irs:      irs,
		rules:    index,
		engine:   engine,
		counters: counters,
		opts:     opts,
	}
}

// Registry возвращает таблицу сервисов снапшота
func (d *Dispatcher) Registry() *schema.Registry {
	return d.registry
}

// NewRequest строит нормализованный запрос для метода из таблицы
func (d *Dispatcher) NewRequest(m *schema.Method, md Metadata, data map[string]any, protocol Protocol) *Request {
	return &Request{
		Service:        m.Service.FullName,
		Method:         m.Name,
		RuleKey:        m.RuleKey,
		Metadata:       md,
		Data:           data,
		RequestType:    m.InputType,
		ResponseType:   m.OutputType,
		RequestStream:  m.ClientStream,
		ResponseStream: m.ServerStream,
		Protocol:       protocol,
	}
}

// Unary обрабатывает одиночный вызов
func (d *Dispatcher) Unary(ctx context.Context, req *Request) (*Response, *apperror.Error) {
	rule, appErr := d.lookupRule(req)
	if appErr != nil {
		return nil, appErr
	}

	if appErr := d.validateMessage(req, req.Data, 0); appErr != nil {
		return nil, appErr
	}

	opt := rules.Select(rule, req.Data, map[string]any(req.Metadata))
	rctx := d.renderContext(req, req.Data, nil)

	trailers := rules.RenderTrailers(opt.Trailers, rctx)
	if appErr := trailerError(trailers); appErr != nil {
		return nil, appErr
	}

	body := opt.Body
	if body == nil {
		body = map[string]any{}
	}

	return &Response{
		Data:    rules.Render(body, rctx),
		Trailer: restTrailers(trailers),
	}, nil
}

// ServerStream обрабатывает server-stream вызов. Возвращает трейлеры
// завершения потока и ошибку.
func (d *Dispatcher) ServerStream(ctx context.Context, req *Request, send SendFunc) (map[string]string, *apperror.Error) {
	rule, appErr := d.lookupRule(req)
	if appErr != nil {
		return nil, appErr
	}

	if appErr := d.validateMessage(req, req.Data, 0); appErr != nil {
		return nil, appErr
	}

	opt := rules.Select(rule, req.Data, map[string]any(req.Metadata))
	baseCtx := d.renderContext(req, req.Data, nil)

	trailers := rules.RenderTrailers(opt.Trailers, baseCtx)
	if appErr := trailerError(trailers); appErr != nil {
		return nil, appErr
	}

	if appErr := d.emitStream(ctx, req, opt, req.Data, send); appErr != nil {
		return nil, appErr
	}
	return restTrailers(trailers), nil
}

// ClientStream обрабатывает client-stream вызов: один ответ после
// завершения входного потока
func (d *Dispatcher) ClientStream(ctx context.Context, req *Request, recv RecvFunc) (*Response, *apperror.Error) {
	rule, appErr := d.lookupRule(req)
	if appErr != nil {
		return nil, appErr
	}

	msgs, appErr := d.collectInput(ctx, req, recv, schema.KindClientStream)
	if appErr != nil {
		return nil, appErr
	}

	agg := aggregateView(msgs)
	opt := rules.Select(rule, agg, map[string]any(req.Metadata))
	rctx := d.renderContext(req, agg, nil)

	trailers := rules.RenderTrailers(opt.Trailers, rctx)
	if appErr := trailerError(trailers); appErr != nil {
		return nil, appErr
	}

	body := opt.Body
	if body == nil {
		body = map[string]any{}
	}

	return &Response{
		Data:    rules.Render(body, rctx),
		Trailer: restTrailers(trailers),
	}, nil
}

// Bidi обрабатывает двунаправленный вызов: вход собирается целиком,
// затем выход порождается по правилам server-stream
func (d *Dispatcher) Bidi(ctx context.Context, req *Request, recv RecvFunc, send SendFunc) (map[string]string, *apperror.Error) {
	rule, appErr := d.lookupRule(req)
	if appErr != nil {
		return nil, appErr
	}

	msgs, appErr := d.collectInput(ctx, req, recv, schema.KindBidi)
	if appErr != nil {
		return nil, appErr
	}

	agg := aggregateView(msgs)
	opt := rules.Select(rule, agg, map[string]any(req.Metadata))
	baseCtx := d.renderContext(req, agg, nil)

	trailers := rules.RenderTrailers(opt.Trailers, baseCtx)
	if appErr := trailerError(trailers); appErr != nil {
		return nil, appErr
	}

	if appErr := d.emitStream(ctx, req, opt, agg, send); appErr != nil {
		return nil, appErr
	}
	return restTrailers(trailers), nil
}

// lookupRule ищет правило по ключу метода и ведёт счётчики подбора
func (d *Dispatcher) lookupRule(req *Request) (*rules.Rule, *apperror.Error) {
	rule, ok := d.rules.Get(req.RuleKey)
	if !ok {
		d.counters.RecordRuleMiss()
		logger.Log.Warn("No rule for method",
			"service", req.Service, "method", req.Method, "rule_key", req.RuleKey)
		appErr := apperror.Newf(apperror.CodeUnimplemented,
			"No rule matched for %s/%s", req.Service, req.Method)
		appErr.Meta = map[string]string{"protomock-rule-key": req.RuleKey}
		return nil, appErr
	}
	d.counters.RecordRuleMatch(req.RuleKey)
	return rule, nil
}

// validateMessage проверяет одно входное сообщение.
// index нумерует сообщения потока с единицы; 0 - одиночный вход.
func (d *Dispatcher) validateMessage(req *Request, data map[string]any, index int) *apperror.Error {
	if !d.opts.ValidationEnabled {
		return nil
	}
	ir, ok := d.irs[req.RequestType]
	if !ok || ir.Empty() {
		// Для типа без правил валидатор не строится
		return nil
	}

	result := d.engine.Validate(ir, data)
	if result.OK {
		d.counters.RecordValidationCheck()
		return nil
	}

	failureTypes := make([]string, 0, len(result.Violations))
	violations := make([]apperror.FieldViolation, 0, len(result.Violations))
	for _, v := range result.Violations {
		failureTypes = append(failureTypes, v.Rule)
		violations = append(violations, apperror.FieldViolation{
			Field:        v.Field,
			ConstraintID: v.Rule,
			Message:      v.Description,
			Value:        v.Value,
		})
	}
	d.counters.RecordValidationCheck(failureTypes...)

	message := "validation failed"
	if index > 0 {
		message = "validation failed on message " + strconv.Itoa(index)
	}
	return apperror.New(apperror.CodeInvalidArgument, message).WithViolations(violations)
}

// collectInput вычитывает входной поток, применяя режим валидации.
// per_message валидирует на лету, aggregate - после конца потока.
func (d *Dispatcher) collectInput(ctx context.Context, req *Request, recv RecvFunc, kind schema.StreamKind) ([]map[string]any, *apperror.Error) {
	perMessage := !strings.EqualFold(d.opts.ValidationMode, "aggregate")

	var msgs []map[string]any
	for {
		msg, err := recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, MapStreamError(kind, ctx, err)
		}

		if perMessage {
			if appErr := d.validateMessage(req, msg, len(msgs)+1); appErr != nil {
				return nil, appErr
			}
		}
		msgs = append(msgs, msg)
	}

	if !perMessage {
		for i, msg := range msgs {
			if appErr := d.validateMessage(req, msg, i+1); appErr != nil {
				return nil, appErr
			}
		}
	}

	return msgs, nil
}

// emitStream излучает stream_items выбранного варианта, соблюдая паузы,
// отмену и порядок. При stream_loop повторяет до отмены вызова.
func (d *Dispatcher) emitStream(ctx context.Context, req *Request, opt *rules.ResponseOption, requestView any, send SendFunc) *apperror.Error {
	items := opt.StreamItems
	if len(items) == 0 {
		body := opt.Body
		if body == nil {
			body = map[string]any{}
		}
		items = []any{body}
	}

	kind := schema.KindServerStream
	if req.RequestStream {
		kind = schema.KindBidi
	}

	delay := time.Duration(opt.StreamDelayMs) * time.Millisecond
	emitted := 0

	for {
		for i, item := range items {
			// Пауза перед каждым сообщением, кроме самого первого
			if emitted > 0 && delay > 0 {
				select {
				case <-ctx.Done():
					return MapStreamError(kind, ctx, ctx.Err())
				case <-time.After(delay):
				}
			}
			if err := ctx.Err(); err != nil {
				return MapStreamError(kind, ctx, err)
			}

			stream := &rules.StreamInfo{
				Index:   i,
				Total:   len(items),
				IsFirst: emitted == 0,
				IsLast:  i == len(items)-1 && !opt.StreamLoop,
			}
			rctx := d.renderContext(req, requestView, stream)

			if err := send(&Response{Data: rules.Render(item, rctx)}); err != nil {
				return MapStreamError(kind, ctx, err)
			}
			metrics.Get().StreamMessagesOut.WithLabelValues(req.Service + "/" + req.Method).Inc()
			emitted++
		}

		if !opt.StreamLoop {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return MapStreamError(kind, ctx, err)
		}
	}
}

func (d *Dispatcher) renderContext(req *Request, requestView any, stream *rules.StreamInfo) *rules.RenderContext {
	return &rules.RenderContext{
		Request:  requestView,
		Metadata: map[string]any(req.Metadata),
		Stream:   stream,
		Utils:    d.opts.Utils,
	}
}

// aggregateView строит синтетический request-объект агрегированного потока
func aggregateView(msgs []map[string]any) map[string]any {
	items := make([]any, len(msgs))
	for i, m := range msgs {
		items[i] = m
	}
	view := map[string]any{
		"stream": true,
		"items":  items,
		"count":  len(msgs),
	}
	if len(msgs) > 0 {
		view["first"] = msgs[0]
		view["last"] = msgs[len(msgs)-1]
	}
	return view
}
