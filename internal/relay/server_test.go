package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/codelink-dev/codelink/internal/protocol"
)

// testRelay runs a real relay over httptest and returns its ws:// URL.
func testRelay(t *testing.T) string {
	t.Helper()

	server := NewServer(NewRegistry())
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, f *protocol.Frame) {
	t.Helper()

	data, err := f.Encode()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	f, err := protocol.Decode(data)
	require.NoError(t, err)
	return f
}

// registerAgent connects an agent socket and completes registration.
func registerAgent(t *testing.T, url, identity string) (*websocket.Conn, string) {
	t.Helper()

	conn := dial(t, url+"?type=agent&agentToken="+identity)
	writeFrame(t, conn, &protocol.Frame{Type: protocol.TypeAgentRegister, AgentToken: identity, Version: "0.1.0"})

	reply := readFrame(t, conn)
	require.Equal(t, protocol.TypeRegisterOK, reply.Type)
	require.Len(t, reply.PairingCode, 6)
	return conn, reply.PairingCode
}

// pairMobile connects a pairing mobile and redeems the code.
func pairMobile(t *testing.T, url, code string) (*websocket.Conn, string) {
	t.Helper()

	conn := dial(t, url+"?type=mobile")
	writeFrame(t, conn, &protocol.Frame{Type: protocol.TypeMobileConnect, PairingCode: code})

	reply := readFrame(t, conn)
	require.Equal(t, protocol.TypeSessionOK, reply.Type)

	_, err := uuid.Parse(reply.SessionToken)
	require.NoError(t, err, "session token must be a UUID")
	return conn, reply.SessionToken
}

func TestHappyPathPairing(t *testing.T) {
	url := testRelay(t)

	_, code := registerAgent(t, url, "A1")
	_, token := pairMobile(t, url, code)
	assert.NotEmpty(t, token)
}

func TestUnknownPairingCodeKeepsSocketOpenForRetry(t *testing.T) {
	url := testRelay(t)
	_, code := registerAgent(t, url, "A1")

	conn := dial(t, url+"?type=mobile")
	writeFrame(t, conn, &protocol.Frame{Type: protocol.TypeMobileConnect, PairingCode: "999999"})

	reply := readFrame(t, conn)
	require.Equal(t, protocol.TypeError, reply.Type)
	assert.Equal(t, "Invalid or expired pairing code", reply.Message)

	// Retry on the same socket with the real code
	writeFrame(t, conn, &protocol.Frame{Type: protocol.TypeMobileConnect, PairingCode: code})
	reply = readFrame(t, conn)
	assert.Equal(t, protocol.TypeSessionOK, reply.Type)
}

func TestAgentReconnectKeepsPairingCode(t *testing.T) {
	url := testRelay(t)

	conn, code := registerAgent(t, url, "A1")
	conn.Close(websocket.StatusNormalClosure, "")

	_, again := registerAgent(t, url, "A1")
	assert.Equal(t, code, again)
}

// Frames forwarded mobile→agent are stamped with the session token the
// relay bound to the socket, regardless of what the mobile supplied.
func TestRelayStampsSessionID(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, token := pairMobile(t, url, code)

	writeFrame(t, mobileConn, &protocol.Frame{
		Type:      protocol.TypeChatMessage,
		SessionID: "spoofed-value",
		Text:      "hi",
	})

	delivered := readFrame(t, agentConn)
	assert.Equal(t, protocol.TypeChatMessage, delivered.Type)
	assert.Equal(t, token, delivered.SessionID)
	assert.Equal(t, "hi", delivered.Text)
}

func TestAgentRepliesRouteToBoundMobile(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, token := pairMobile(t, url, code)

	chunks := []string{"a\n", "b\n", "c\n"}
	for _, text := range chunks {
		writeFrame(t, agentConn, &protocol.Frame{Type: protocol.TypeStreamChunk, SessionID: token, Text: text})
	}
	writeFrame(t, agentConn, &protocol.Frame{Type: protocol.TypeStreamEnd, SessionID: token})

	for _, want := range chunks {
		f := readFrame(t, mobileConn)
		assert.Equal(t, protocol.TypeStreamChunk, f.Type)
		assert.Equal(t, token, f.SessionID)
		assert.Equal(t, want, f.Text)
	}
	f := readFrame(t, mobileConn)
	assert.Equal(t, protocol.TypeStreamEnd, f.Type)
}

func TestPingIsDeliveredToAgentAndPongRoutedBack(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, token := pairMobile(t, url, code)

	writeFrame(t, mobileConn, &protocol.Frame{Type: protocol.TypePing})

	delivered := readFrame(t, agentConn)
	require.Equal(t, protocol.TypePing, delivered.Type)
	require.Equal(t, token, delivered.SessionID)

	writeFrame(t, agentConn, &protocol.Frame{Type: protocol.TypePong, SessionID: token})
	reply := readFrame(t, mobileConn)
	assert.Equal(t, protocol.TypePong, reply.Type)
}

// Agent heartbeat pings resolve to no session and are absorbed.
func TestHeartbeatFramesAreDropped(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, _ := pairMobile(t, url, code)

	writeFrame(t, agentConn, &protocol.Frame{Type: protocol.TypePing, SessionID: protocol.HeartbeatSessionID})

	// Nothing arrives at the mobile
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, err := mobileConn.Read(ctx)
	assert.Error(t, err, "heartbeat must not be routed to any mobile")
}

func TestMobileResume(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, token := pairMobile(t, url, code)
	mobileConn.Close(websocket.StatusNormalClosure, "")

	// An in-flight agent reply while the mobile is gone is dropped
	writeFrame(t, agentConn, &protocol.Frame{Type: protocol.TypeStreamChunk, SessionID: token, Text: "lost"})

	resumed := dial(t, url+"?type=mobile&sessionToken="+token)

	// Give the relay a moment to attach the resumed socket
	time.Sleep(100 * time.Millisecond)

	writeFrame(t, agentConn, &protocol.Frame{Type: protocol.TypeTaskDone, SessionID: token, PRURL: "https://example.test/pr/1", PRTitle: "done"})

	f := readFrame(t, resumed)
	assert.Equal(t, protocol.TypeTaskDone, f.Type)
	assert.Equal(t, "https://example.test/pr/1", f.PRURL)
}

func TestResumeWithUnknownTokenCloses4001(t *testing.T) {
	url := testRelay(t)

	conn := dial(t, url+"?type=mobile&sessionToken="+uuid.New().String())

	f := readFrame(t, conn)
	require.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "Session expired — reconnect", f.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(4001), websocket.CloseStatus(err))
}

func TestMissingClassificationCloses4000(t *testing.T) {
	url := testRelay(t)

	conn := dial(t, url+"?type=frobnicator")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusCode(4000), websocket.CloseStatus(err))
}

func TestInvalidationRotatesCode(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, _ := pairMobile(t, url, code)

	writeFrame(t, mobileConn, &protocol.Frame{Type: protocol.TypeInvalidatePairing})

	// The agent is pushed the rotated code
	rotated := readFrame(t, agentConn)
	require.Equal(t, protocol.TypeRegisterOK, rotated.Type)
	assert.NotEqual(t, code, rotated.PairingCode)
	assert.Len(t, rotated.PairingCode, 6)

	// The mobile socket is closed cleanly
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := mobileConn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	// Old code is dead, rotated code works
	deadConn := dial(t, url+"?type=mobile")
	writeFrame(t, deadConn, &protocol.Frame{Type: protocol.TypeMobileConnect, PairingCode: code})
	f := readFrame(t, deadConn)
	require.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, "Invalid or expired pairing code", f.Message)

	_, _ = pairMobile(t, url, rotated.PairingCode)
}

func TestMobileFrameWhileAgentOffline(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, token := pairMobile(t, url, code)

	agentConn.Close(websocket.StatusNormalClosure, "")

	// The relay needs a moment to observe the agent drop
	time.Sleep(100 * time.Millisecond)

	writeFrame(t, mobileConn, &protocol.Frame{Type: protocol.TypeChatMessage, Text: "hi"})

	f := readFrame(t, mobileConn)
	assert.Equal(t, protocol.TypeError, f.Type)
	assert.Equal(t, token, f.SessionID)
	assert.Equal(t, "Agent disconnected", f.Message)
}

func TestMalformedJSONIsSilentlyDropped(t *testing.T) {
	url := testRelay(t)

	agentConn, code := registerAgent(t, url, "A1")
	mobileConn, token := pairMobile(t, url, code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mobileConn.Write(ctx, websocket.MessageText, []byte("{not json")))

	// The socket survives and later frames still flow
	writeFrame(t, mobileConn, &protocol.Frame{Type: protocol.TypeChatMessage, Text: "still here"})

	f := readFrame(t, agentConn)
	assert.Equal(t, protocol.TypeChatMessage, f.Type)
	assert.Equal(t, token, f.SessionID)
}
