package kanboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a Kanboard record identifier. The API encodes ids inconsistently
// (JSON numbers on creation, strings on retrieval, false on failure), so ID
// accepts all of them. A failed or absent id decodes to the empty string.
type ID string

// Valid reports whether the id refers to an actual record. Kanboard signals
// failure with false, which decodes to the zero ID.
func (id ID) Valid() bool {
	return id != ""
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, string(data) == "null", string(data) == "false":
		*id = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id is neither string nor number: %w", err)
		}
		*id = ID(n.String())
		return nil
	}
}

// Flag is a loosely typed boolean: Kanboard encodes flags as booleans,
// numbers or numeric strings depending on the endpoint.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false", "0", `"0"`, `""`:
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// Non-numeric non-empty string, treat as set.
			*f = true
			return nil
		}
		*f = n != 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = n != 0
	return nil
}

// User is a Kanboard user account as returned by getAllUsers.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// Project is a Kanboard project as returned by getProjectByName.
type Project struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Task is the subset of a Kanboard task record the pipeline reads.
type Task struct {
	ID        ID     `json:"id"`
	Title     string `json:"title"`
	ProjectID ID     `json:"project_id"`
	IsActive  Flag   `json:"is_active"`
}

// TaskRequest carries the parameters for createTask.
type TaskRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	CreatorID   ID     `json:"creator_id"`
	DateStarted string `json:"date_started,omitempty"`
	DateDue     string `json:"date_due,omitempty"`
	Description string `json:"description"`
}
