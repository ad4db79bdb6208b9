package httpapi_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/telepath-im/telepath/contact"
	"github.com/telepath-im/telepath/delivery"
	"github.com/telepath-im/telepath/httpapi"
	"github.com/telepath-im/telepath/queue"
	"github.com/telepath-im/telepath/registry"
	"github.com/telepath-im/telepath/storage"
)

func newTestServer() *httpapi.Server {
	store := storage.NewMemory()
	reg := registry.New(store, store, time.Second)
	q := queue.New(store, time.Second)
	linker := contact.New(store, store, time.Second)
	proto := delivery.New(reg, q)
	return httpapi.New(reg, linker, proto, store, 1000, 1000)
}

func doRequest(t *testing.T, srv *httpapi.Server, method, uri, userID, body string) *fasthttp.RequestCtx {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	srv.Handler(ctx)
	return ctx
}

func decodeResponse(t *testing.T, ctx *fasthttp.RequestCtx) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer()
	ctx := doRequest(t, srv, "GET", "http://test/healthz", "", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "ok", decodeResponse(t, ctx)["status"])
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer()
	ctx := doRequest(t, srv, "GET", "http://test/v1/nope", "alice", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestCreateKeyRequiresCaller(t *testing.T) {
	srv := newTestServer()
	ctx := doRequest(t, srv, "POST", "http://test/v1/keys", "", `{"personal":true}`)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestMessagingRoundTrip(t *testing.T) {
	srv := newTestServer()

	ctx := doRequest(t, srv, "POST", "http://test/v1/keys", "bob", `{"personal":true}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	keyValue, _ := decodeResponse(t, ctx)["value"].(string)
	require.NotEmpty(t, keyValue)

	ctx = doRequest(t, srv, "POST", "http://test/v1/messages", "alice", `{"to":"bob","plaintext":"hello bob"}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	msgID, _ := decodeResponse(t, ctx)["message_id"].(string)
	require.NotEmpty(t, msgID)

	ctx = doRequest(t, srv, "GET", "http://test/v1/messages", "bob", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	msgs, _ := decodeResponse(t, ctx)["messages"].([]any)
	require.Len(t, msgs, 1)
	first, _ := msgs[0].(map[string]any)
	assert.Equal(t, "alice", first["from"])
	assert.Equal(t, "hello bob", first["plaintext"])

	ctx = doRequest(t, srv, "DELETE", "http://test/v1/messages/"+msgID, "bob", "")
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())

	ctx = doRequest(t, srv, "GET", "http://test/v1/messages", "bob", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	msgs, _ = decodeResponse(t, ctx)["messages"].([]any)
	assert.Empty(t, msgs)
}

func TestSendWithoutRecipientKey(t *testing.T) {
	srv := newTestServer()
	ctx := doRequest(t, srv, "POST", "http://test/v1/messages", "alice", `{"to":"ghost","plaintext":"hi"}`)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Equal(t, "not_found", decodeResponse(t, ctx)["kind"])
}

func TestResolvePublicKey(t *testing.T) {
	srv := newTestServer()

	body := `{"id":"bob","username":"bob","display_name":"Bob B."}`
	ctx := doRequest(t, srv, "POST", "http://test/v1/users", "", body)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	ctx = doRequest(t, srv, "POST", "http://test/v1/keys", "bob",
		`{"personal":true,"is_public":true,"share_identity":true}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	keyValue, _ := decodeResponse(t, ctx)["value"].(string)

	ctx = doRequest(t, srv, "GET", "http://test/v1/resolve?value="+keyValue, "alice", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	res := decodeResponse(t, ctx)
	assert.Equal(t, "bob", res["owner_id"])
	assert.Equal(t, "Bob B.", res["display_name"])
}

func TestResolveRateLimit(t *testing.T) {
	store := storage.NewMemory()
	reg := registry.New(store, store, time.Second)
	q := queue.New(store, time.Second)
	linker := contact.New(store, store, time.Second)
	proto := delivery.New(reg, q)
	srv := httpapi.New(reg, linker, proto, store, 1, 2)

	var limited bool
	for i := 0; i < 5; i++ {
		ctx := doRequest(t, srv, "GET", "http://test/v1/resolve?value=TLPTH-AAAA-AAAA-AAAA-AAAA-AAAA", "alice", "")
		if ctx.Response.StatusCode() == fasthttp.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of resolves must hit the limiter")
}

func TestContactLifecycle(t *testing.T) {
	srv := newTestServer()

	body := `{"id":"bob","username":"bob"}`
	ctx := doRequest(t, srv, "POST", "http://test/v1/users", "", body)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	ctx = doRequest(t, srv, "POST", "http://test/v1/contacts", "alice",
		`{"identifier":"bob","display_name":"Bob B."}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	ctx = doRequest(t, srv, "GET", "http://test/v1/contacts", "alice", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	contacts, _ := decodeResponse(t, ctx)["contacts"].([]any)
	require.Len(t, contacts, 1)

	ctx = doRequest(t, srv, "DELETE", "http://test/v1/contacts/bob", "alice", "")
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())

	ctx = doRequest(t, srv, "GET", "http://test/v1/contacts", "alice", "")
	contacts, _ = decodeResponse(t, ctx)["contacts"].([]any)
	assert.Empty(t, contacts)
}

func TestDeleteConversation(t *testing.T) {
	srv := newTestServer()

	ctx := doRequest(t, srv, "POST", "http://test/v1/keys", "bob", `{"personal":true}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	for i := 0; i < 3; i++ {
		ctx = doRequest(t, srv, "POST", "http://test/v1/messages", "alice",
			fmt.Sprintf(`{"to":"bob","plaintext":"msg %d"}`, i))
		require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	}

	ctx = doRequest(t, srv, "DELETE", "http://test/v1/conversations/bob", "alice", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, float64(3), decodeResponse(t, ctx)["deleted_count"])
}
