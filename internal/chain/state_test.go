package chain

import (
	"testing"
	"time"

	"deltaflow/internal/consts"
	"deltaflow/internal/model"
)

func msgWith(t *testing.T, body string) *model.SignalMessage {
	t.Helper()
	m, err := model.ParseSignalMessage([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestSigKeyCaseInsensitive(t *testing.T) {
	if SigKey("S1", "arcusd") != SigKey("S1", "ARCUSD") {
		t.Fatal("sig key must upper-case the symbol")
	}
	if SigKey("S1", "ARCUSD") == SigKey("S2", "ARCUSD") {
		t.Fatal("different signals must not collide")
	}
}

func TestSeenTTL(t *testing.T) {
	st := NewState()
	now := time.Unix(1754000000, 0)
	st.SetNowFunc(func() time.Time { return now })

	fp := Fingerprint(msgWith(t, `{"action":"ENTER","sig_id":"S1","seq":1,"product_symbol":"ARCUSD"}`))
	if !st.AdmitFingerprint(fp) {
		t.Fatal("first delivery must be admitted")
	}
	if st.AdmitFingerprint(fp) {
		t.Fatal("replay within TTL must be rejected")
	}

	now = now.Add(consts.SeenTTL + time.Second)
	if !st.AdmitFingerprint(fp) {
		t.Fatal("replay after TTL must be admitted again")
	}
}

func TestForgetFingerprint(t *testing.T) {
	st := NewState()
	fp := "abc"
	st.AdmitFingerprint(fp)
	st.ForgetFingerprint(fp)
	if !st.AdmitFingerprint(fp) {
		t.Fatal("forgotten fingerprint must be admitted")
	}
}

func TestFingerprintDistinguishesLegs(t *testing.T) {
	a := Fingerprint(msgWith(t, `{"action":"CANCAL","sig_id":"S1","seq":0,"product_symbol":"ARCUSD"}`))
	b := Fingerprint(msgWith(t, `{"action":"ENTER","sig_id":"S1","seq":1,"product_symbol":"ARCUSD"}`))
	c := Fingerprint(msgWith(t, `{"action":"ENTER","sig_id":"S1","seq":1,"product_symbol":"BTCUSD"}`))
	if a == b || b == c {
		t.Fatal("fingerprints must differ across seq and symbol")
	}
}

func TestChainEvictionSparesCurrentKey(t *testing.T) {
	st := NewState()
	now := time.Unix(1754000000, 0)
	st.SetNowFunc(func() time.Time { return now })

	st.Upsert(msgWith(t, `{"action":"CANCAL","sig_id":"OLD","seq":0,"product_symbol":"ARCUSD"}`))
	st.Upsert(msgWith(t, `{"action":"CANCAL","sig_id":"CUR","seq":0,"product_symbol":"ARCUSD"}`))

	now = now.Add(consts.ChainTTL + time.Second)
	rec, _ := st.Upsert(msgWith(t, `{"action":"ENTER","sig_id":"CUR","seq":1,"product_symbol":"ARCUSD"}`))

	chains := st.DebugChains()
	if len(chains) != 1 {
		t.Fatalf("chains = %d, want stale OLD evicted and CUR kept", len(chains))
	}
	// CUR 的创建时间保留，窗口检查才能看到真实年龄
	if !rec.CreatedAt.Equal(time.Unix(1754000000, 0)) {
		t.Fatalf("created_at = %v, must not reset on touch", rec.CreatedAt)
	}
	if rec.EnterMsg == nil || rec.CancelMsg == nil {
		t.Fatal("slots lost on upsert")
	}
}

func TestUpsertLastWriterWins(t *testing.T) {
	st := NewState()
	st.Upsert(msgWith(t, `{"action":"ENTER","sig_id":"S1","seq":1,"product_symbol":"ARCUSD","qty":1}`))
	rec, _ := st.Upsert(msgWith(t, `{"action":"ENTER","sig_id":"S1","seq":1,"product_symbol":"ARCUSD","qty":9}`))
	if rec.EnterMsg.QtyLots() != 9 {
		t.Fatalf("qty = %d, want last writer", rec.EnterMsg.QtyLots())
	}
}

func TestLastEntryMemoTTL(t *testing.T) {
	st := NewState()
	now := time.Unix(1754000000, 0)
	st.SetNowFunc(func() time.Time { return now })

	st.RememberEntry("ARCUSD", LastEntry{Lots: 5, Side: "buy", LotMult: 10, Ts: now})
	le, ok := st.RecentEntry("arcusd")
	if !ok || le.Lots != 5 {
		t.Fatalf("memo = %+v ok=%v", le, ok)
	}

	now = now.Add(consts.LastEntryTTL + time.Second)
	if _, ok := st.RecentEntry("ARCUSD"); ok {
		t.Fatal("memo must expire")
	}
}
