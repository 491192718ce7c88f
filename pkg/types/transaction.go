package types

// Transaction is a value transfer, uniquely keyed by TxID.
type Transaction struct {
	TxID      string  `json:"tx_id"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Amount    float64 `json:"amount"`
	Timestamp int64   `json:"timestamp"`
}

// WellFormed reports whether the transaction passes the structural
// check: non-empty id and parties, positive amount. No signature or
// balance verification happens here.
func (t Transaction) WellFormed() bool {
	return t.TxID != "" && t.Sender != "" && t.Receiver != "" && t.Amount > 0
}
