package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/mux"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/AbdullahHR10/ChatFlow/internal/db"
	"github.com/AbdullahHR10/ChatFlow/internal/models"
	"github.com/AbdullahHR10/ChatFlow/internal/websocket"
)

type Handlers struct {
	db         *db.DB
	hub        *websocket.Hub
	logger     *zap.SugaredLogger
	jwtSecret  []byte
	notifyPool fastjson.ParserPool
}

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The reverse proxy in front of the daemon enforces origins.
		return true
	},
}

func NewHandlers(database *db.DB, hub *websocket.Hub, logger *zap.SugaredLogger, jwtSecret string) *Handlers {
	return &Handlers{
		db:        database,
		hub:       hub,
		logger:    logger,
		jwtSecret: []byte(jwtSecret),
	}
}

// Router wires the daemon's HTTP surface. Everything except /ws and the
// internal side door belongs to the excluded web layer.
func (h *Handlers) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.HandleWebSocket)
	r.HandleFunc("/internal/notifications", h.HandleNotify).Methods(http.MethodPost)
	r.HandleFunc("/internal/notifications", h.HandleUnreadNotifications).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// authenticate resolves the connecting user from a JWT carried in the
// auth_token cookie or the token query parameter.
func (h *Handlers) authenticate(r *http.Request) (*models.User, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		cookie, err := r.Cookie("auth_token")
		if err != nil {
			return nil, fmt.Errorf("no credentials presented")
		}
		raw = cookie.Value
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("invalid user id in token")
	}

	user, err := h.db.UserByID(r.Context(), userID)
	if err != nil {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

// HandleWebSocket authenticates, upgrades and hands the connection to the
// hub. The authenticated user id is bound to the connection here and never
// re-derived from ambient state afterwards.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		h.logger.Warnf("WebSocket auth failed from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	h.logger.Infof("WebSocket authenticated for user %s (%s)", user.Name, user.ID)

	client := websocket.NewClient(h.hub, conn, user.ID, user.Name)
	go client.WritePump()

	if err := h.hub.Connect(r.Context(), client); err != nil {
		h.logger.Errorf("Failed to register connection for user %s: %v", user.ID, err)
		h.hub.Disconnect(client)
		return
	}

	go client.ReadPump()
}

// HandleNotify is the side door for collaborator modules (friendship
// acceptance and the like): store the notification durably, then relay it
// to any live connections. Relay is best-effort and never fails the
// request.
func (h *Handlers) HandleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Can not read request body", http.StatusBadRequest)
		return
	}

	parser := h.notifyPool.Get()
	defer h.notifyPool.Put(parser)
	v, err := parser.ParseBytes(body)
	if err != nil {
		http.Error(w, "Malformed JSON", http.StatusBadRequest)
		return
	}

	userID := string(v.GetStringBytes("user_id"))
	if userID == "" {
		http.Error(w, `Missing field "user_id"`, http.StatusBadRequest)
		return
	}
	message := string(v.GetStringBytes("message"))
	if message == "" {
		http.Error(w, `Missing field "message"`, http.StatusBadRequest)
		return
	}
	notificationType := string(v.GetStringBytes("type"))
	if notificationType == "" {
		http.Error(w, `Missing field "type"`, http.StatusBadRequest)
		return
	}

	if _, err := h.db.UserByID(r.Context(), userID); err != nil {
		http.Error(w, "User does not exist", http.StatusBadRequest)
		return
	}

	notification := &models.Notification{
		UserID:  userID,
		Message: message,
		Type:    notificationType,
	}
	if err := h.db.CreateNotification(r.Context(), notification); err != nil {
		h.logger.Errorf("Failed to store notification for user %s: %v", userID, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.hub.Relay(*notification)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"id":%q}`, notification.ID)
}

// HandleUnreadNotifications serves the poll-based retrieval path for users
// who were offline when a notification was relayed.
func (h *Handlers) HandleUnreadNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, `Missing parameter "user_id"`, http.StatusBadRequest)
		return
	}

	notifications, err := h.db.UnreadNotifications(r.Context(), userID)
	if err != nil {
		h.logger.Errorf("Failed to list notifications for user %s: %v", userID, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(notifications); err != nil {
		h.logger.Errorf("Failed to encode notifications: %v", err)
	}
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
