package dynamodb

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// PK/SK prefix constants.
const (
	prefixGate  = "GATE#"
	prefixDLQ   = "DLQ#"
	prefixTable = "TABLE#"
	prefixEntry = "ENTRY#"

	pkDLQ  = "DLQ"
	skFlag = "FLAG"
)

func flagPK() string { return prefixGate + "flag" }
func flagSK() string { return skFlag }

func dlqPK() string          { return pkDLQ }
func dlqSK(id string) string { return prefixDLQ + id }

func sinkPK(table string) string { return prefixTable + table }

func sinkSK(ts time.Time) string {
	millis := ts.UnixMilli()
	nonce := make([]byte, 4)
	_, _ = rand.Read(nonce)
	return fmt.Sprintf("%s%013d#%s", prefixEntry, millis, hex.EncodeToString(nonce))
}

func ttlEpoch(now time.Time, d time.Duration) int64 {
	return now.Add(d).Unix()
}
