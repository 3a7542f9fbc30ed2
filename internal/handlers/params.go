package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// flexID accepts a user id sent either as a JSON number or a numeric string.
type flexID int

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid id %q", s)
		}
		*f = flexID(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

// pathUserID parses the :userId param and checks it against the token.
// It writes the error response itself and returns false on failure.
func pathUserID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("userId"))
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, requireSelf(c, id)
}

// requireSelf rejects requests that act on behalf of another user.
func requireSelf(c *gin.Context, id int) bool {
	current, ok := currentUserID(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if current != id {
		respondError(c, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
