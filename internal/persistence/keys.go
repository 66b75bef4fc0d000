// Package persistence contains helpers shared by store implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/du6/yourlittleone/internal/domain"
)

// EncodeActivityKey serialises the composite key to a websafe token.
func EncodeActivityKey(key domain.ActivityKey) string {
	raw := fmt.Sprintf("%s|%d", key.OwnerID, key.LocalID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeActivityKey parses a token produced by EncodeActivityKey. The id is
// numeric, so the last separator is unambiguous even when the owner id itself
// contains one (federated subjects like "auth0|12345" do).
func DecodeActivityKey(token string) (domain.ActivityKey, error) {
	decoded, err := base64.URLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return domain.ActivityKey{}, err
	}
	raw := string(decoded)
	sep := strings.LastIndex(raw, "|")
	if sep <= 0 {
		return domain.ActivityKey{}, fmt.Errorf("invalid activity key token")
	}
	id, err := strconv.ParseInt(raw[sep+1:], 10, 64)
	if err != nil {
		return domain.ActivityKey{}, fmt.Errorf("invalid activity key token: %w", err)
	}
	return domain.ActivityKey{OwnerID: raw[:sep], LocalID: id}, nil
}
