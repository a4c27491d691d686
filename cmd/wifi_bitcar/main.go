package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"bitcar/command"
	"bitcar/config"
	"bitcar/logging"
	"bitcar/streamer"
	"bitcar/telemetry"
	"bitcar/vehicle"
)

var json jsoniter.API = jsoniter.ConfigCompatibleWithStandardLibrary

const CONFIG_PATH_ENV = "BITCAR_CONFIG"
const SHUTDOWN_TIMEOUT = 5 * time.Second
const MQTT_DISCONNECT_QUIESCE_MS = 250
const STATUS_BUFFER_SIZE = 4

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	return true
}

type vehicleControl interface {
	Execute(cmd *command.Command) *command.Reply
	Reset() error
}

type server struct {
	wsMutex sync.Mutex
	car     vehicleControl
	status  *streamer.Streamer[command.Status]
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// one client drives at a time; the vehicle stops when it goes away
func (s *server) serveVehicleControlWSRequest(w http.ResponseWriter, r *http.Request) {
	if !s.wsMutex.TryLock() {
		s.logger.Warnw("websocket multiple connections are not allowed", "host", r.Host)
		return
	}
	defer s.wsMutex.Unlock()
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	s.logger.Infow("websocket connection established", "remote", r.RemoteAddr)
	defer conn.Close()
	for {
		conn.SetReadDeadline(time.Now().Add(s.timeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Infow("websocket read error", "error", err)
			break
		}
		cmd, err := command.Unmarshal(message)
		var reply *command.Reply
		switch {
		case cmd == nil:
			s.logger.Warnw("websocket command format error", "error", err)
		case err != nil:
			reply = command.Failed(cmd.Type, err)
		default:
			reply = s.car.Execute(cmd)
		}
		if reply == nil {
			break
		}
		message, err = json.Marshal(reply)
		if err != nil {
			s.logger.Errorw("could not encode reply", "type", reply.Type, "error", err)
			break
		}
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			s.logger.Warnw("websocket write error", "error", err)
			break
		}
	}
	if err := s.car.Reset(); err != nil {
		s.logger.Errorw("could not stop vehicle", "error", err)
	}
	s.logger.Infow("websocket connection terminated", "remote", r.RemoteAddr)
}

// any number of viewers may watch the status stream
func (s *server) serveStatusWSRequest(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.NotFound(w, r)
		return
	}
	client, ok := s.status.NewClient(STATUS_BUFFER_SIZE)
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer client.Close()
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for {
		select {
		case <-gone:
			return
		case status, ok := <-client.C:
			if !ok {
				return
			}
			message, err := json.Marshal(status)
			if err != nil {
				s.logger.Errorw("could not encode status", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debugw("status viewer left", "error", err)
				return
			}
		}
	}
}

// feedStatus broadcasts a snapshot every period until ctx is done.
func feedStatus(ctx context.Context, st *streamer.Streamer[command.Status], source func() command.Status, clk clock.Clock, period time.Duration) {
	ticker := clk.Ticker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := source()
			if !st.Broadcast(&status) {
				return
			}
		}
	}
}

func newMux(s *server, publicDir string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveVehicleControlWSRequest)
	mux.HandleFunc("/status", s.serveStatusWSRequest)
	mux.Handle("/", http.FileServer(http.Dir(publicDir)))
	return mux
}

func startTelemetry(ctx context.Context, cfg telemetry.Config, car *vehicle.Vehicle, logger *zap.SugaredLogger) func() {
	client, err := telemetry.Connect(cfg, logger)
	if err != nil {
		logger.Errorw("mqtt disabled", "error", err)
		return func() {}
	}
	pub := telemetry.NewPublisher(client, cfg, nil, logger)
	go pub.Run(ctx, car.Status)
	if err := pub.ServeCommands(ctx, car.Execute); err != nil {
		logger.Errorw("mqtt commands disabled", "error", err)
	}
	return func() { client.Disconnect(MQTT_DISCONNECT_QUIESCE_MS) }
}

func main() {
	cfg, err := config.Load(os.Getenv(CONFIG_PATH_ENV))
	if err != nil {
		logging.NewDefault("wifi_bitcar").Fatalw("invalid configuration", "error", err)
	}
	logger, err := logging.New("wifi_bitcar", cfg.Log)
	if err != nil {
		logging.NewDefault("wifi_bitcar").Fatalw("could not build logger", "error", err)
	}
	defer logger.Sync()

	car, err := vehicle.Open(cfg, logger)
	if err != nil {
		logger.Fatalw("could not open vehicle", "error", err)
	}
	defer car.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	car.Start(ctx)

	if cfg.MQTT.Enabled() {
		disconnect := startTelemetry(ctx, cfg.MQTT, car, logger.Named("mqtt"))
		defer disconnect()
	}

	s := &server{car: car, timeout: cfg.Server.ReadTimeout, logger: logger.Named("ws")}
	if cfg.Server.StatusPeriod > 0 {
		s.status = streamer.NewStreamer[command.Status](STATUS_BUFFER_SIZE, logger.Named("status"))
		go s.status.Run(ctx)
		go feedStatus(ctx, s.status, car.Status, clock.New(), cfg.Server.StatusPeriod)
	}
	srv := &http.Server{Addr: cfg.Server.Address, Handler: newMux(s, cfg.Server.PublicDir)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Infow("serving remote control", "address", cfg.Server.Address)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("unable to start http server", "error", err)
	}
}
