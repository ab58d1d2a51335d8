package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/okian/ktrace/internal/domain/model"
)

// flexID accepts a JSON string or number. LMS identifiers arrive as either.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("identifier must be a string or number, got %s", b)
		}
		*f = flexID(n.String())
	}
	return nil
}

// flexTime accepts an RFC3339 string or unix seconds. Values it cannot read
// decode to the zero time and are reported by the normalizer.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	*f = flexTime(parseTime(bytes.TrimSpace(b)))
	return nil
}

func parseTime(b []byte) time.Time {
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return time.Time{}
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return time.Time{}
		}
		raw = strings.TrimSpace(raw)
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC()
		}
	}
	secs, err := strconv.ParseFloat(raw, 64)
	// NaN fails both comparisons.
	if err != nil || !(secs > 0 && secs <= maxUnixSeconds) {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}

// maxUnixSeconds is 9999-12-31T23:59:59Z, the last instant RFC3339 can carry.
const maxUnixSeconds = 253402300799

// flexCorrect reads the correct flag of a response.
type flexCorrect model.Correctness

func (f *flexCorrect) UnmarshalJSON(b []byte) error {
	*f = flexCorrect(parseCorrect(bytes.TrimSpace(b)))
	return nil
}

func parseCorrect(b []byte) model.Correctness {
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return model.CorrectnessInvalid
		}
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "null":
		return model.CorrectnessUnset
	case "true", "1", "1.0", "correct":
		return model.CorrectnessCorrect
	case "false", "0", "0.0", "incorrect", "wrong":
		return model.CorrectnessIncorrect
	default:
		return model.CorrectnessInvalid
	}
}

// flexGrade is an optional numeric grade that may arrive as a string.
type flexGrade struct {
	value *float64
}

func (f *flexGrade) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		f.value = nil
		return nil
	}
	f.value = &v
	return nil
}

type responseRequest struct {
	QuestionID flexID      `json:"question_id"`
	Correct    flexCorrect `json:"correct"`
	Timestamp  flexTime    `json:"timestamp"`
	EventID    flexID      `json:"event_id"`
}

type historyRequest struct {
	ItemID    flexID    `json:"item_id"`
	Type      string    `json:"type"`
	Grade     flexGrade `json:"grade"`
	Timestamp flexTime  `json:"timestamp"`
	EventID   flexID    `json:"event_id"`
}

type contentViewRequest struct {
	ContentID    flexID    `json:"content_id"`
	Type         string    `json:"type"`
	ViewDuration flexGrade `json:"view_duration"`
	Timestamp    flexTime  `json:"timestamp"`
	EventID      flexID    `json:"event_id"`
}

// attemptRequest mirrors the LMS plugin payload.
type attemptRequest struct {
	AttemptID    flexID               `json:"attemptid"`
	UserID       flexID               `json:"userid"`
	CourseID     flexID               `json:"courseid"`
	QuizID       flexID               `json:"quizid"`
	QuizName     string               `json:"quizname"`
	FirstName    string               `json:"studentfirstname"`
	Responses    []responseRequest    `json:"responses"`
	History      []historyRequest     `json:"history"`
	ContentViews []contentViewRequest `json:"contentviews"`
}

func (r *attemptRequest) attempt() model.Attempt {
	a := model.Attempt{
		AttemptID: string(r.AttemptID),
		StudentID: string(r.UserID),
		CourseID:  string(r.CourseID),
		QuizID:    string(r.QuizID),
		QuizName:  r.QuizName,
		FirstName: r.FirstName,
	}
	for _, x := range r.Responses {
		a.Responses = append(a.Responses, model.Response{
			QuestionID: string(x.QuestionID),
			Correct:    model.Correctness(x.Correct),
			Timestamp:  time.Time(x.Timestamp),
			EventID:    string(x.EventID),
		})
	}
	for _, x := range r.History {
		a.History = append(a.History, model.HistoryEntry{
			ItemID:    string(x.ItemID),
			Kind:      x.Type,
			Grade:     x.Grade.value,
			Timestamp: time.Time(x.Timestamp),
			EventID:   string(x.EventID),
		})
	}
	for _, x := range r.ContentViews {
		var d time.Duration
		if x.ViewDuration.value != nil && *x.ViewDuration.value > 0 {
			d = time.Duration(*x.ViewDuration.value * float64(time.Second))
		}
		a.ContentViews = append(a.ContentViews, model.ContentView{
			ContentID:    string(x.ContentID),
			Kind:         x.Type,
			ViewDuration: d,
			Timestamp:    time.Time(x.Timestamp),
			EventID:      string(x.EventID),
		})
	}
	return a
}

type batchRequest struct {
	Attempts []attemptRequest `json:"attempts"`
}
