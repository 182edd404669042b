package solana

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestHandleMessage_RoutesNotificationToHandler(t *testing.T) {
	w := NewWSClient("wss://example.invalid", "confirmed")

	var got []AccountUpdate
	w.OnAccountUpdate(func(u AccountUpdate) { got = append(got, u) })

	account := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	w.pending[1] = account

	// Subscription confirmation maps request id 1 to subscription id 23784.
	w.handleMessage([]byte(`{"jsonrpc":"2.0","result":23784,"id":1}`))
	if _, ok := w.active[23784]; !ok {
		t.Fatal("subscription id not recorded from confirmation frame")
	}

	payload := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	frame := fmt.Sprintf(`{
		"jsonrpc":"2.0",
		"method":"accountNotification",
		"params":{
			"result":{
				"context":{"slot":5199307},
				"value":{"data":["%s","base64"],"lamports":33594,"owner":"11111111111111111111111111111111"}
			},
			"subscription":23784
		}
	}`, payload)
	w.handleMessage([]byte(frame))

	if len(got) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(got))
	}
	update := got[0]
	if !update.Account.Equals(account) {
		t.Errorf("Account = %s, want %s", update.Account, account)
	}
	if update.Slot != 5199307 {
		t.Errorf("Slot = %d, want 5199307", update.Slot)
	}
	if update.Lamports != 33594 {
		t.Errorf("Lamports = %d, want 33594", update.Lamports)
	}
	if len(update.Data) != 3 || update.Data[0] != 0x01 {
		t.Errorf("Data = %v, want decoded [1 2 3]", update.Data)
	}
}

func TestHandleMessage_UnknownSubscriptionDropped(t *testing.T) {
	w := NewWSClient("wss://example.invalid", "")

	calls := 0
	w.OnAccountUpdate(func(AccountUpdate) { calls++ })

	w.handleMessage([]byte(`{
		"jsonrpc":"2.0",
		"method":"accountNotification",
		"params":{"result":{"context":{"slot":1},"value":{"data":["","base64"],"lamports":0,"owner":""}},"subscription":999}
	}`))

	if calls != 0 {
		t.Errorf("handler invoked %d times for unknown subscription, want 0", calls)
	}
}

func TestHandleMessage_GarbageIgnored(t *testing.T) {
	w := NewWSClient("wss://example.invalid", "")
	w.OnAccountUpdate(func(AccountUpdate) { t.Error("handler invoked for garbage frame") })

	w.handleMessage([]byte(`not json`))
	w.handleMessage([]byte(`{"jsonrpc":"2.0","method":"accountNotification","params":"bogus"}`))
	w.handleMessage([]byte(`{"jsonrpc":"2.0","id":7,"result":"not a number"}`))
}
