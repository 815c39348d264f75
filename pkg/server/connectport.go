package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"connectrpc.com/connect"

	"protomock/pkg/config"
	"protomock/pkg/dispatch"
	"protomock/pkg/ratelimit"
	"protomock/pkg/schema"
	"protomock/pkg/telemetry"
)

// buildConnectHandler собирает http.Handler объединённого порта для одного
// снапшота: connect-обработчик на каждый метод, health и reflection.
// Обработчики замыкают диспетчер снапшота, поэтому вызовы в полёте
// доживают на своём снапшоте и после перезагрузки.
func buildConnectHandler(cfg *config.Config, snap *Snapshot, limiter ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	chain := []connect.Interceptor{NewLoggingInterceptor()}
	if cfg.Tracing.Enabled {
		chain = append([]connect.Interceptor{telemetry.UnaryInterceptor()}, chain...)
	}
	interceptors := connect.WithInterceptors(chain...)

	var wrap func(http.Handler) http.Handler = countRequests
	if limiter != nil {
		rl := rateLimitMiddleware(limiter)
		inner := wrap
		wrap = func(h http.Handler) http.Handler { return rl(inner(h)) }
	}

	for _, svc := range snap.Registry.Services() {
		for _, m := range svc.Methods {
			mux.Handle(m.Procedure(), wrap(methodHandler(snap, m, interceptors)))
		}
	}

	mux.HandleFunc("/health", healthHandler(snap))

	if snap.ReflectionSet != nil {
		refl := newReflectionHandler(snap.ReflectionSet)
		mux.Handle("/grpc.reflection.v1.ServerReflection/", refl)
		mux.Handle("/grpc.reflection.v1alpha.ServerReflection/", refl)
	}

	var handler http.Handler = mux
	if cfg.Connect.CORS.Enabled {
		handler = CORS(cfg.Connect.CORS)(handler)
	}
	return handler
}

// methodHandler строит connect-обработчик нужной формы с кодеками метода
func methodHandler(snap *Snapshot, m *schema.Method, opts ...connect.HandlerOption) http.Handler {
	codecs := []connect.HandlerOption{
		connect.WithCodec(&methodCodec{name: "proto", input: m.Input, output: m.Output}),
		connect.WithCodec(&methodCodec{name: "json", input: m.Input, output: m.Output}),
	}
	opts = append(codecs, opts...)
	d := snap.Dispatcher

	switch m.Kind() {
	case schema.KindServerStream:
		return connect.NewServerStreamHandler(m.Procedure(),
			func(ctx context.Context, creq *connect.Request[wireMessage], stream *connect.ServerStream[wireMessage]) error {
				req := normalizeConnect(d, m, creq.Header(), creq.Msg.data, creq.Peer())
				trailers, appErr := d.ServerStream(ctx, req, func(r *dispatch.Response) error {
					return stream.Send(&wireMessage{data: treeAsMap(r.Data)})
				})
				if appErr != nil {
					return appErr.ConnectError()
				}
				for k, v := range trailers {
					stream.ResponseTrailer().Set(k, v)
				}
				return nil
			}, opts...)

	case schema.KindClientStream:
		return connect.NewClientStreamHandler(m.Procedure(),
			func(ctx context.Context, stream *connect.ClientStream[wireMessage]) (*connect.Response[wireMessage], error) {
				req := normalizeConnect(d, m, stream.RequestHeader(), nil, stream.Peer())
				recv := func() (map[string]any, error) {
					if stream.Receive() {
						return stream.Msg().data, nil
					}
					if err := stream.Err(); err != nil {
						return nil, err
					}
					return nil, io.EOF
				}
				resp, appErr := d.ClientStream(ctx, req, recv)
				if appErr != nil {
					return nil, appErr.ConnectError()
				}
				cresp := connect.NewResponse(&wireMessage{data: treeAsMap(resp.Data)})
				for k, v := range resp.Trailer {
					cresp.Trailer().Set(k, v)
				}
				return cresp, nil
			}, opts...)

	case schema.KindBidi:
		return connect.NewBidiStreamHandler(m.Procedure(),
			func(ctx context.Context, stream *connect.BidiStream[wireMessage, wireMessage]) error {
				req := normalizeConnect(d, m, stream.RequestHeader(), nil, stream.Peer())
				recv := func() (map[string]any, error) {
					msg, err := stream.Receive()
					if err != nil {
						return nil, err
					}
					return msg.data, nil
				}
				trailers, appErr := d.Bidi(ctx, req, recv, func(r *dispatch.Response) error {
					return stream.Send(&wireMessage{data: treeAsMap(r.Data)})
				})
				if appErr != nil {
					return appErr.ConnectError()
				}
				for k, v := range trailers {
					stream.ResponseTrailer().Set(k, v)
				}
				return nil
			}, opts...)

	default:
		return connect.NewUnaryHandler(m.Procedure(),
			func(ctx context.Context, creq *connect.Request[wireMessage]) (*connect.Response[wireMessage], error) {
				req := normalizeConnect(d, m, creq.Header(), creq.Msg.data, creq.Peer())
				resp, appErr := d.Unary(ctx, req)
				if appErr != nil {
					return nil, appErr.ConnectError()
				}
				cresp := connect.NewResponse(&wireMessage{data: treeAsMap(resp.Data)})
				for k, v := range resp.Trailer {
					cresp.Trailer().Set(k, v)
				}
				return cresp, nil
			}, opts...)
	}
}

// normalizeConnect приводит connect-запрос к нормализованному виду
func normalizeConnect(d *dispatch.Dispatcher, m *schema.Method, header http.Header, data map[string]any, peer connect.Peer) *dispatch.Request {
	protocol := mapConnectProtocol(peer.Protocol)

	// connect-timeout-ms приоритетнее grpc-timeout
	timeout := header.Get("connect-timeout-ms")
	if timeout == "" {
		timeout = grpcTimeoutToMillis(header.Get("grpc-timeout"))
	}

	md := dispatch.NewMetadata(header, protocol, timeout)
	return d.NewRequest(m, md, data, protocol)
}

func mapConnectProtocol(p string) dispatch.Protocol {
	switch p {
	case connect.ProtocolGRPC:
		return dispatch.ProtocolGRPC
	case connect.ProtocolGRPCWeb:
		return dispatch.ProtocolGRPCWeb
	default:
		return dispatch.ProtocolConnect
	}
}

// grpcTimeoutToMillis переводит grpc-timeout ("5S", "100m") в миллисекунды
func grpcTimeoutToMillis(t string) string {
	if len(t) < 2 {
		return ""
	}
	value, err := strconv.Atoi(t[:len(t)-1])
	if err != nil || value < 0 {
		return ""
	}
	var ms int
	switch t[len(t)-1] {
	case 'H':
		ms = value * 3600 * 1000
	case 'M':
		ms = value * 60 * 1000
	case 'S':
		ms = value * 1000
	case 'm':
		ms = value
	case 'u':
		ms = value / 1000
	case 'n':
		ms = value / 1000000
	default:
		return ""
	}
	return strconv.Itoa(ms)
}

// healthHandler отвечает состоянием сервинга; в метрики не попадает
func healthHandler(snap *Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		services := snap.Registry.ServiceNames()
		if services == nil {
			services = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "serving",
			"services":   services,
			"reflection": snap.ReflectionSet != nil,
		})
	}
}
