package httpapi

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/telepath-im/telepath/apperr"
	"github.com/telepath-im/telepath/contact"
	"github.com/telepath-im/telepath/delivery"
	"github.com/telepath-im/telepath/metrics"
	"github.com/telepath-im/telepath/registry"
)

// UserRegistrar records identified callers into the user directory.
type UserRegistrar interface {
	RegisterUser(ctx context.Context, entry registry.DirectoryEntry) error
}

// Server exposes the core operations over fasthttp.
type Server struct {
	registry *registry.Registry
	linker   *contact.Linker
	protocol *delivery.Protocol
	users    UserRegistrar

	resolveLimiter *limiterPool
	metricsHandler fasthttp.RequestHandler
}

// New creates a Server. rps/burst tune the per-caller resolve rate limit.
func New(reg *registry.Registry, linker *contact.Linker, proto *delivery.Protocol, users UserRegistrar, rps float64, burst int) *Server {
	return &Server{
		registry:       reg,
		linker:         linker,
		protocol:       proto,
		users:          users,
		resolveLimiter: newLimiterPool(rps, burst),
		metricsHandler: fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
	}
}

// Handler is the fasthttp request handler for the whole surface.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == "/healthz" && method == fasthttp.MethodGet:
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case path == "/metrics" && method == fasthttp.MethodGet:
		s.metricsHandler(ctx)
	case path == "/v1/users" && method == fasthttp.MethodPost:
		s.handleRegisterUser(ctx)
	case path == "/v1/keys" && method == fasthttp.MethodPost:
		s.handleCreateKey(ctx)
	case path == "/v1/keys" && method == fasthttp.MethodGet:
		s.handleListKeys(ctx)
	case strings.HasPrefix(path, "/v1/keys/") && strings.HasSuffix(path, "/visibility") && method == fasthttp.MethodPut:
		s.handleUpdateVisibility(ctx, strings.TrimSuffix(strings.TrimPrefix(path, "/v1/keys/"), "/visibility"))
	case strings.HasPrefix(path, "/v1/keys/") && method == fasthttp.MethodDelete:
		s.handleDeleteKey(ctx, strings.TrimPrefix(path, "/v1/keys/"))
	case path == "/v1/resolve" && method == fasthttp.MethodGet:
		s.handleResolve(ctx)
	case path == "/v1/contacts" && method == fasthttp.MethodPost:
		s.handleLinkContact(ctx)
	case path == "/v1/contacts" && method == fasthttp.MethodGet:
		s.handleListContacts(ctx)
	case strings.HasPrefix(path, "/v1/contacts/") && method == fasthttp.MethodDelete:
		s.handleRemoveContact(ctx, strings.TrimPrefix(path, "/v1/contacts/"))
	case path == "/v1/messages" && method == fasthttp.MethodPost:
		s.handleSend(ctx)
	case path == "/v1/messages" && method == fasthttp.MethodGet:
		s.handleReceive(ctx)
	case strings.HasPrefix(path, "/v1/messages/") && method == fasthttp.MethodDelete:
		s.handleRead(ctx, strings.TrimPrefix(path, "/v1/messages/"))
	case strings.HasPrefix(path, "/v1/conversations/") && method == fasthttp.MethodDelete:
		s.handleDeleteConversation(ctx, strings.TrimPrefix(path, "/v1/conversations/"))
	default:
		writeError(ctx, fasthttp.StatusNotFound, "unknown route")
	}
}

// callerID extracts the opaque caller identity, or fails the request.
func callerID(ctx *fasthttp.RequestCtx) (string, bool) {
	id := string(ctx.Request.Header.Peek("X-User-ID"))
	if id == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "missing X-User-ID header")
		return "", false
	}
	return id, true
}

func decodeBody(ctx *fasthttp.RequestCtx, out any) bool {
	if err := json.Unmarshal(ctx.PostBody(), out); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.SetStatusCode(status)
	data, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"encoding failure"}`)
		return
	}
	ctx.SetBody(data)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeCoreError maps the stable error taxonomy onto HTTP statuses.
func writeCoreError(ctx *fasthttp.RequestCtx, err error) {
	status := fasthttp.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindEncode:
		status = fasthttp.StatusBadRequest
	case apperr.KindNotFound:
		status = fasthttp.StatusNotFound
	case apperr.KindDecode:
		status = fasthttp.StatusUnprocessableEntity
	case apperr.KindConflict:
		status = fasthttp.StatusConflict
	case apperr.KindTimeout:
		status = fasthttp.StatusGatewayTimeout
	case apperr.KindUnavailable:
		status = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, status, map[string]string{
		"error": err.Error(),
		"kind":  apperr.KindOf(err).String(),
	})
}

func (s *Server) handleRegisterUser(ctx *fasthttp.RequestCtx) {
	var req struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	entry := registry.DirectoryEntry{ID: req.ID, Username: req.Username, DisplayName: req.DisplayName}
	if err := s.users.RegisterUser(ctx, entry); err != nil {
		writeCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, entry)
}

func (s *Server) handleCreateKey(ctx *fasthttp.RequestCtx) {
	owner, ok := callerID(ctx)
	if !ok {
		return
	}
	var req struct {
		Personal      bool   `json:"personal"`
		Label         string `json:"label"`
		IsPublic      bool   `json:"is_public"`
		ShareIdentity bool   `json:"share_identity"`
	}
	if !decodeBody(ctx, &req) {
		return
	}

	vis := registry.Visibility{IsPublic: req.IsPublic, ShareIdentity: req.ShareIdentity}
	var key *registry.Key
	var err error
	if req.Personal {
		key, err = s.registry.CreatePersonalKey(ctx, owner, vis)
	} else {
		key, err = s.registry.CreateKey(ctx, owner, req.Label, vis)
	}
	if err != nil {
		writeCoreError(ctx, err)
		return
	}
	metrics.KeysCreated.Inc()
	writeJSON(ctx, fasthttp.StatusCreated, map[string]string{
		"key_id": key.ID,
		"value":  key.Value,
	})
}

func (s *Server) handleListKeys(ctx *fasthttp.RequestCtx) {
	owner, ok := callerID(ctx)
	if !ok {
		return
	}
	keys, err := s.registry.ListOwnerKeys(ctx, owner)
	if err != nil {
		writeCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleUpdateVisibility(ctx *fasthttp.RequestCtx, keyID string) {
	if _, ok := callerID(ctx); !ok {
		return
	}
	var req struct {
		IsPublic      bool `json:"is_public"`
		ShareIdentity bool `json:"share_identity"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	if err := s.registry.UpdateVisibility(ctx, keyID, req.IsPublic, req.ShareIdentity); err != nil {
		writeCoreError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleDeleteKey(ctx *fasthttp.RequestCtx, keyID string) {
	if _, ok := callerID(ctx); !ok {
		return
	}
	if err := s.registry.DeleteKey(ctx, keyID); err != nil {
		writeCoreError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleResolve(ctx *fasthttp.RequestCtx) {
	caller := string(ctx.Request.Header.Peek("X-User-ID"))
	if caller == "" {
		caller = ctx.RemoteIP().String()
	}
	if !s.resolveLimiter.Allow(caller) {
		metrics.ResolveRejected.Inc()
		writeError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	value := string(ctx.QueryArgs().Peek("value"))
	res, err := s.registry.ResolvePublic(ctx, value)
	if err != nil {
		writeCoreError(ctx, err)
		return
	}
	body := map[string]any{"owner_id": res.OwnerID}
	if res.IdentityShared {
		body["display_name"] = res.DisplayName
	}
	writeJSON(ctx, fasthttp.StatusOK, body)
}

func (s *Server) handleLinkContact(ctx *fasthttp.RequestCtx) {
	owner, ok := callerID(ctx)
	if !ok {
		return
	}
	var req struct {
		KeyValue    string `json:"key_value"`
		Identifier  string `json:"identifier"`
		DisplayName string `json:"display_name"`
	}
	if !decodeBody(ctx, &req) {
		return
	}

	var c *contact.Contact
	var err error
	if req.KeyValue != "" {
		var res registry.Resolution
		res, err = s.registry.ResolvePublic(ctx, req.KeyValue)
		if err == nil {
			c, err = s.linker.LinkByResolvedKey(ctx, owner, res)
		}
	} else {
		c, err = s.linker.LinkByIdentifier(ctx, owner, req.Identifier, req.DisplayName)
	}
	if err != nil {
		writeCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, c)
}

func (s *Server) handleListContacts(ctx *fasthttp.RequestCtx) {
	owner, ok := callerID(ctx)
	if !ok {
		return
	}
	contacts, err := s.linker.ListContacts(ctx, owner)
	if err != nil {
		writeCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"contacts": contacts})
}

func (s *Server) handleRemoveContact(ctx *fasthttp.RequestCtx, identifier string) {
	owner, ok := callerID(ctx)
	if !ok {
		return
	}
	if err := s.linker.RemoveContact(ctx, owner, identifier); err != nil {
		writeCoreError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleSend(ctx *fasthttp.RequestCtx) {
	from, ok := callerID(ctx)
	if !ok {
		return
	}
	var req struct {
		To        string `json:"to"`
		Plaintext string `json:"plaintext"`
	}
	if !decodeBody(ctx, &req) {
		return
	}
	msg, err := s.protocol.Send(ctx, from, req.To, req.Plaintext)
	if err != nil {
		writeCoreError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, map[string]string{"message_id": msg.ID})
}

func (s *Server) handleReceive(ctx *fasthttp.RequestCtx) {
	recipient, ok := callerID(ctx)
	if !ok {
		return
	}
	deliveries, err := s.protocol.Receive(ctx, recipient)
	if err != nil {
		writeCoreError(ctx, err)
		return
	}

	type item struct {
		MessageID   string `json:"message_id"`
		From        string `json:"from"`
		Plaintext   string `json:"plaintext,omitempty"`
		DecodeError string `json:"decode_error,omitempty"`
		Timestamp   string `json:"timestamp"`
	}
	items := make([]item, 0, len(deliveries))
	for _, d := range deliveries {
		it := item{
			MessageID: d.MessageID,
			From:      d.From,
			Timestamp: d.Timestamp.Format(time.RFC3339Nano),
		}
		if d.DecodeErr != nil {
			it.DecodeError = d.DecodeErr.Error()
		} else {
			it.Plaintext = d.Plaintext
		}
		items = append(items, it)
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"messages": items})
}

func (s *Server) handleRead(ctx *fasthttp.RequestCtx, messageID string) {
	if _, ok := callerID(ctx); !ok {
		return
	}
	if err := s.protocol.Read(ctx, messageID); err != nil {
		writeCoreError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) handleDeleteConversation(ctx *fasthttp.RequestCtx, peer string) {
	caller, ok := callerID(ctx)
	if !ok {
		return
	}
	n, err := s.protocol.DeleteConversation(ctx, caller, peer)
	if err != nil {
		writeCoreError(ctx, err)
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleDeleteConversation",
		"deleted":  n,
	}).Debug("Conversation delete served")
	writeJSON(ctx, fasthttp.StatusOK, map[string]int{"deleted_count": n})
}
