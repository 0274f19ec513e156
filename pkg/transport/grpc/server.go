// Package grpc provides a hub-and-spoke Bus: a small broker Server that fans
// messages out to streaming subscribers, and a Client implementing
// transport.Bus against it. Messages use a JSON codec and a hand-written
// service descriptor.
package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "log"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-fleet/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-fleet/pkg/observability/metrics"
    "github.com/amirimatin/go-fleet/pkg/observability/tracing"
    "github.com/amirimatin/go-fleet/pkg/transport/inmem"
)

const serviceName = "fleet.v1.Broker"

type empty struct{}

// envelope carries one message. An envelope with an empty topic on a
// subscription stream is the ready marker sent once the subscriber is
// registered.
type envelope struct {
    Topic string `json:"topic"`
    Data  []byte `json:"data"`
}

type subscribeReq struct {
    Topic string `json:"topic"`
}

// Server is the broker. It holds no state besides live subscriptions.
type Server struct {
    bind   string
    tlsCfg *tls.Config
    log    *log.Logger
    hub    *inmem.Bus

    mu  sync.Mutex
    lis net.Listener
    srv *grpc.Server
}

func NewServer(bind string) *Server {
    return &Server{bind: bind, log: log.Default(), hub: inmem.New()}
}

// UseTLS enables TLS (typically mTLS from tlsconfig) for the broker.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// WithLogger sets the logger for broker messages.
func (s *Server) WithLogger(l *log.Logger) *Server { if l != nil { s.log = l }; return s }

type brokerServer interface {
    Publish(ctx context.Context, in *envelope) (*empty, error)
    Subscribe(in *subscribeReq, stream grpc.ServerStream) error
}

type broker struct{ hub *inmem.Bus }

func (b *broker) Publish(ctx context.Context, in *envelope) (*empty, error) {
    ctx, end := tracing.StartSpan(ctx, "hub.publish")
    defer end()
    if in.Topic == "" { return nil, status.Error(codes.InvalidArgument, "empty topic") }
    if err := b.hub.Publish(ctx, in.Topic, in.Data); err != nil { return nil, status.Error(codes.Unavailable, err.Error()) }
    obsmetrics.HubMessages.WithLabelValues(in.Topic).Inc()
    return &empty{}, nil
}

func (b *broker) Subscribe(in *subscribeReq, stream grpc.ServerStream) error {
    if in.Topic == "" { return status.Error(codes.InvalidArgument, "empty topic") }
    ch, err := b.hub.Subscribe(stream.Context(), in.Topic)
    if err != nil { return status.Error(codes.Unavailable, err.Error()) }
    obsmetrics.HubSubscribers.Inc()
    defer obsmetrics.HubSubscribers.Dec()
    if err := stream.SendMsg(&envelope{}); err != nil { return err }
    for data := range ch {
        if err := stream.SendMsg(&envelope{Topic: in.Topic, Data: data}); err != nil { return err }
    }
    if stream.Context().Err() != nil { return nil }
    return status.Error(codes.Unavailable, "broker shutting down")
}

var _Broker_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*brokerServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Publish", Handler: _Broker_Publish_Handler},
    },
    Streams: []grpc.StreamDesc{{
        StreamName:    "Subscribe",
        ServerStreams: true,
        Handler:       _Broker_Subscribe_Handler,
    }},
}

func _Broker_Publish_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
    in := new(envelope)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(brokerServer).Publish(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Publish"}
    handler := func(ctx context.Context, req any) (any, error) {
        return srv.(brokerServer).Publish(ctx, req.(*envelope))
    }
    return interceptor(ctx, in, info, handler)
}

func _Broker_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
    in := new(subscribeReq)
    if err := stream.RecvMsg(in); err != nil { return err }
    return srv.(brokerServer).Subscribe(in, stream)
}

// Start listens and serves in the background until ctx is done or Stop.
func (s *Server) Start(ctx context.Context) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    healthpb.RegisterHealthServer(srv, health.NewServer())
    srv.RegisterService(&_Broker_serviceDesc, &broker{hub: s.hub})

    s.mu.Lock()
    s.lis, s.srv = lis, srv
    s.mu.Unlock()
    obsmetrics.Register()
    logutil.Infof(s.log, "broker listening on %s", lis.Addr())

    go func() {
        if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
            logutil.Errorf(s.log, "broker serve: %v", err)
        }
    }()
    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(sctx)
    }()
    return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop ends every subscription stream and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv, s.lis = nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    _ = s.hub.Close()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    logutil.Infof(s.log, "broker stopped")
    return nil
}
