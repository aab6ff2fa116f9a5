package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/host"
)

type fakeApplier struct {
	next uint64
	seen []protocol.ChangeEvent
}

func (f *fakeApplier) Apply(_ context.Context, ev protocol.ChangeEvent) (protocol.ChangeResult, error) {
	if ev.Cells != nil && ev.Cells[0].Block == "UNOBTAINIUM" {
		return protocol.ChangeResult{}, host.ErrUnknownBlock
	}
	f.next++
	f.seen = append(f.seen, ev)
	return protocol.ChangeResult{ChangeID: f.next, Tick: 7, WorldID: ev.WorldID, Cells: len(ev.Cells)}, nil
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) map[string]any {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestChangeStream_AckAndErrors(t *testing.T) {
	app := &fakeApplier{}
	srv := httptest.NewServer(NewServer(app, nil).Handler())
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()

	const world = "6f1c2a8e-3b1d-4c55-9a7e-0d2b7c1e9f10"
	ack := roundTrip(t, conn, `{"type":"PLACE","world_id":"`+world+`","cells":[{"pos":[1,65,1],"block":"STONE"}]}`)
	if ack["type"] != protocol.TypeAck {
		t.Fatalf("reply=%v", ack)
	}
	res := ack["result"].(map[string]any)
	if res["change_id"].(float64) != 1 || res["cells"].(float64) != 1 {
		t.Fatalf("result=%v", res)
	}

	cases := []struct {
		msg  string
		code string
	}{
		{`{`, protocol.ErrProtoBadRequest},
		{`{"type":"PLACE","protocol_version":"9.9","world_id":"` + world + `","cells":[{"pos":[0,0,0],"block":"STONE"}]}`, protocol.ErrProtoBadRequest},
		{`{"type":"DIG","world_id":"` + world + `"}`, protocol.ErrBadRequest},
		{`{"type":"PLACE","world_id":"` + world + `","cells":[{"pos":[0,0,0],"block":"UNOBTAINIUM"}]}`, protocol.ErrUnknownBlock},
	}
	for _, c := range cases {
		reply := roundTrip(t, conn, c.msg)
		if reply["type"] != protocol.TypeError || reply["code"] != c.code {
			t.Fatalf("msg=%s reply=%v want code %s", c.msg, reply, c.code)
		}
	}

	ack = roundTrip(t, conn, `{"type":"PUSH","world_id":"`+world+`","pusher":[0,65,0],"direction":"X_POS","moved":[[1,65,0]]}`)
	if ack["type"] != protocol.TypeAck {
		t.Fatalf("reply=%v", ack)
	}
	if len(app.seen) != 2 || app.seen[1].Direction != "X_POS" {
		t.Fatalf("applied=%+v", app.seen)
	}
}
