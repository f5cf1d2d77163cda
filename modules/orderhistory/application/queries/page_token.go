package queries

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/rai/orderhistory-go/modules/orderhistory/domain"
)

// pageToken is the wire form of a continuation token: the history key of the
// last order returned on the previous page.
type pageToken struct {
	CreationDate int64  `json:"d"`
	OrderID      string `json:"id"`
}

func encodePageToken(key domain.HistoryKey) string {
	raw, _ := json.Marshal(pageToken{
		CreationDate: key.CreationDate.UnixNano(),
		OrderID:      key.OrderID,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodePageToken(token string) (domain.HistoryKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return domain.HistoryKey{}, domain.ErrInvalidPageToken
	}
	var pt pageToken
	if err := json.Unmarshal(raw, &pt); err != nil || pt.OrderID == "" {
		return domain.HistoryKey{}, domain.ErrInvalidPageToken
	}
	return domain.HistoryKey{
		CreationDate: time.Unix(0, pt.CreationDate).UTC(),
		OrderID:      pt.OrderID,
	}, nil
}
