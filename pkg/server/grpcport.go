package server

import (
	"fmt"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"protomock/pkg/apperror"
	"protomock/pkg/config"
	"protomock/pkg/dispatch"
	"protomock/pkg/logger"
	"protomock/pkg/metrics"
	"protomock/pkg/schema"
)

// rawCodec пропускает байты как есть: сервер не знает типов заранее,
// декодирование делает обработчик по дескрипторам снапшота
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: expected *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: expected *[]byte, got %T", v)
	}
	// Копия: транспортный буфер переиспользуется
	*b = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string {
	return "proto"
}

// newGRPCServer создаёт нативный gRPC сервер. Все вызовы попадают в
// UnknownServiceHandler: сервисы не регистрируются, маршрутизация идёт
// по таблице методов текущего снапшота.
func newGRPCServer(cfg *config.Config, snapFn func() *Snapshot) *grpc.Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     cfg.GRPC.KeepAlive.MaxConnectionIdle,
		MaxConnectionAge:      cfg.GRPC.KeepAlive.MaxConnectionAge,
		MaxConnectionAgeGrace: cfg.GRPC.KeepAlive.MaxConnectionAgeGrace,
		Time:                  cfg.GRPC.KeepAlive.Time,
		Timeout:               cfg.GRPC.KeepAlive.Timeout,
	}

	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	return grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.GRPC.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.GRPC.MaxSendMsgSize),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentConn)),
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(unknownServiceHandler(snapFn)),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recovery.WithRecoveryHandler(recoverPanic)),
			streamMetricsInterceptor(),
		),
	)
}

func recoverPanic(p any) error {
	logger.Log.Error("Recovered from panic in handler", "panic", p)
	return status.Errorf(codes.Internal, "internal error")
}

// streamMetricsInterceptor ведёт пер-протокольные счётчики нативного порта
func streamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		metrics.Get().RequestsInFlight.Inc()

		err := handler(srv, ss)

		metrics.Get().RequestsInFlight.Dec()
		outcome := "ok"
		if err != nil {
			outcome = status.Code(err).String()
		}
		metrics.Get().RecordRequest(string(dispatch.ProtocolGRPC), info.FullMethod, outcome, time.Since(start))

		if err != nil {
			logger.Log.Error("Request failed",
				"method", info.FullMethod,
				"protocol", "grpc",
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
		} else {
			logger.Log.Info("Request completed",
				"method", info.FullMethod,
				"protocol", "grpc",
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	}
}

// unknownServiceHandler обслуживает любой метод по снапшоту на момент
// начала вызова
func unknownServiceHandler(snapFn func() *Snapshot) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		full, ok := grpc.MethodFromServerStream(stream)
		if !ok {
			return status.Error(codes.Internal, "method missing in stream context")
		}

		snap := snapFn()
		m, ok := snap.Registry.LookupProcedure(full)
		if !ok {
			return status.Errorf(codes.Unimplemented, "unknown method %s", full)
		}

		ctx := stream.Context()
		incoming, _ := metadata.FromIncomingContext(ctx)

		var timeout string
		if vals := incoming.Get("grpc-timeout"); len(vals) > 0 {
			timeout = grpcTimeoutToMillis(vals[0])
		}
		md := dispatch.NewMetadata(incoming, dispatch.ProtocolGRPC, timeout)

		d := snap.Dispatcher
		req := d.NewRequest(m, md, nil, dispatch.ProtocolGRPC)

		recvTree := func() (map[string]any, error) {
			var raw []byte
			if err := stream.RecvMsg(&raw); err != nil {
				return nil, err
			}
			tree, err := decodeProto(m.Input, raw)
			if err != nil {
				return nil, apperror.Wrap(apperror.CodeInvalidArgument, err.Error(), err)
			}
			return tree, nil
		}
		sendTree := func(r *dispatch.Response) error {
			raw, err := encodeProto(m.Output, r.Data)
			if err != nil {
				return apperror.Wrap(apperror.CodeInternal, err.Error(), err)
			}
			return stream.SendMsg(&raw)
		}

		switch m.Kind() {
		case schema.KindUnary:
			data, err := recvTree()
			if err != nil {
				return grpcError(dispatch.MapGenericError(err))
			}
			req.Data = data
			resp, appErr := d.Unary(ctx, req)
			if appErr != nil {
				return grpcError(appErr)
			}
			setTrailer(stream, resp.Trailer)
			if err := sendTree(resp); err != nil {
				return grpcError(dispatch.MapGenericError(err))
			}
			return nil

		case schema.KindServerStream:
			data, err := recvTree()
			if err != nil {
				return grpcError(dispatch.MapGenericError(err))
			}
			req.Data = data
			trailers, appErr := d.ServerStream(ctx, req, sendTree)
			if appErr != nil {
				return grpcError(appErr)
			}
			setTrailer(stream, trailers)
			return nil

		case schema.KindClientStream:
			resp, appErr := d.ClientStream(ctx, req, recvTree)
			if appErr != nil {
				return grpcError(appErr)
			}
			setTrailer(stream, resp.Trailer)
			if err := sendTree(resp); err != nil {
				return grpcError(dispatch.MapGenericError(err))
			}
			return nil

		default:
			trailers, appErr := d.Bidi(ctx, req, recvTree, sendTree)
			if appErr != nil {
				return grpcError(appErr)
			}
			setTrailer(stream, trailers)
			return nil
		}
	}
}

func grpcError(appErr *apperror.Error) error {
	return appErr.GRPCStatus().Err()
}

func setTrailer(stream grpc.ServerStream, trailers map[string]string) {
	if len(trailers) == 0 {
		return
	}
	pairs := make([]string, 0, len(trailers)*2)
	for k, v := range trailers {
		pairs = append(pairs, k, v)
	}
	stream.SetTrailer(metadata.Pairs(pairs...))
}
