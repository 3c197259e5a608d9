package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"taxi-tracking/internal/broker"
	"taxi-tracking/internal/domain/user"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/jwt"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"

	"github.com/gorilla/websocket"
)

const readLimit = 1 << 20 // 1 MiB

type Config struct {
	QueueSize     int
	PongWait      time.Duration
	PingInterval  time.Duration
	MaxConcurrent int
}

// Server exposes the broker over WebSocket at a single endpoint shared by
// drivers and observers.
type Server struct {
	broker   *broker.Broker
	log      *logger.Logger
	tokens   *jwt.Manager // nil leaves observer rooms open
	cfg      Config
	upgrader websocket.Upgrader
	slots    chan struct{}

	mu      sync.Mutex
	clients map[string]*client
}

func NewServer(b *broker.Broker, log *logger.Logger, tokens *jwt.Manager, cfg Config) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait / 2
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 200
	}
	return &Server{
		broker: b,
		log:    log,
		tokens: tokens,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// observers may present a token at upgrade time; drivers authenticate in-band
	var claims *jwt.Claims
	if s.tokens != nil {
		if raw, err := jwt.FromAuthorization(r); err == nil {
			if _, c, err := s.tokens.ParseAndValidate(raw); err == nil {
				claims = c
			}
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	metrics.WSConnections.Inc()

	c := newClient(conn, s.cfg.QueueSize)
	ctx := s.log.WithRequestID(context.Background(), c.ID())

	s.track(c)
	s.broker.Connect(c)
	defer s.untrack(c)
	defer s.broker.Disconnect(ctx, c.ID())
	defer c.shutdown()

	go c.writeLoop(s.cfg.PingInterval)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	s.log.Debug(ctx, "ws_connected", "connection opened", map[string]any{"remote": r.RemoteAddr})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn(ctx, "ws_unexpected_close", "connection closed unexpectedly", err, nil)
			} else {
				s.log.Debug(ctx, "ws_connection_closed", "connection closed", nil)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		frame, err := contracts.DecodeFrame(payload)
		if err != nil {
			s.sendError(c, "bad frame")
			continue
		}
		s.route(ctx, c, claims, frame)
	}
}

func (s *Server) route(ctx context.Context, c *client, claims *jwt.Claims, frame contracts.Frame) {
	switch frame.Event {
	case contracts.EventTaxiAuth:
		var auth contracts.TaxiAuth
		if err := frame.Decode(&auth); err != nil {
			s.sendError(c, "invalid taxi:auth payload")
			return
		}
		// the broker replies to the client itself
		_ = s.broker.Authenticate(s.log.WithPlate(ctx, auth.Plate), c.ID(), auth)

	case contracts.EventTaxiLocation:
		err := s.broker.HandleLocation(ctx, c.ID(), frame.Data)
		switch {
		case err == nil, errors.Is(err, broker.ErrStaleFix):
		case errors.Is(err, broker.ErrNotAuthenticated):
			s.sendError(c, "not authenticated")
		default:
			s.sendError(c, err.Error())
		}

	case contracts.EventDriverOffline:
		if err := s.broker.HandleDriverOffline(ctx, c.ID()); err != nil {
			s.sendError(c, "not authenticated")
		}

	case contracts.EventJoinAdmin:
		if s.tokens != nil && (claims == nil || claims.Role != user.RoleAdmin) {
			s.sendError(c, "admin room requires an admin token")
			return
		}
		_ = s.broker.Join(c.ID(), broker.AdminRoom)

	case contracts.EventLeaveAdmin:
		s.broker.Leave(c.ID(), broker.AdminRoom)

	case contracts.EventJoinReservation, contracts.EventLeaveReservation:
		var room contracts.ReservationRoom
		if err := frame.Decode(&room); err != nil || room.ReservationID == "" {
			s.sendError(c, "reservationId required")
			return
		}
		if frame.Event == contracts.EventLeaveReservation {
			s.broker.Leave(c.ID(), broker.ReservationRoom(room.ReservationID))
			return
		}
		if s.tokens != nil && claims == nil {
			s.sendError(c, "reservation rooms require a token")
			return
		}
		_ = s.broker.Join(c.ID(), broker.ReservationRoom(room.ReservationID))

	default:
		s.sendError(c, "unknown event")
	}
}

func (s *Server) sendError(c *client, msg string) {
	frame, err := contracts.EncodeFrame(contracts.EventError, contracts.ErrorMessage{Message: msg})
	if err != nil {
		return
	}
	c.Deliver(frame, false)
}

// CloseAll sends a going-away close frame to every open connection. Hijacked
// connections are not closed by http.Server.Shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) track(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID()] = c
}

func (s *Server) untrack(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.ID())
}
