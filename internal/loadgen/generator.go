package loadgen

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Response is one answered question.
type Response struct {
	QuestionID string `json:"question_id"`
	Correct    bool   `json:"correct"`
	Timestamp  string `json:"timestamp"`
}

// HistoryEntry is one graded activity.
type HistoryEntry struct {
	ItemID    string  `json:"item_id"`
	Type      string  `json:"type"`
	Grade     float64 `json:"grade"`
	Timestamp string  `json:"timestamp"`
}

// ContentView is one content view.
type ContentView struct {
	ContentID    string  `json:"content_id"`
	Type         string  `json:"type"`
	ViewDuration float64 `json:"view_duration"`
	Timestamp    string  `json:"timestamp"`
}

// Attempt is the request body of the trace endpoints.
type Attempt struct {
	AttemptID    string         `json:"attemptid"`
	UserID       string         `json:"userid"`
	CourseID     string         `json:"courseid"`
	QuizID       string         `json:"quizid"`
	QuizName     string         `json:"quizname"`
	FirstName    string         `json:"studentfirstname"`
	Responses    []Response     `json:"responses"`
	History      []HistoryEntry `json:"history,omitempty"`
	ContentViews []ContentView  `json:"contentviews,omitempty"`
}

// Key identifies the knowledge state an attempt touches.
func (a *Attempt) Key() string { return a.UserID + "/" + a.CourseID }

var firstNames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Ken", "Radia", "Donald"}

// Workload is a generated set of attempts with the registry that maps them.
type Workload struct {
	RunID    string
	Attempts []Attempt
	Concepts []string
}

func conceptName(i int) string { return fmt.Sprintf("concept_%02d", i) }
func questionID(i int) string { return fmt.Sprintf("q%03d", i) }
func activityID(i int) string { return fmt.Sprintf("act%03d", i) }
func contentID(i int) string { return fmt.Sprintf("page%03d", i) }
func (w *Workload) user(i int) string { return fmt.Sprintf("%s-u%d", w.RunID, i) }
func (w *Workload) course(i int) string { return fmt.Sprintf("%s-c%d", w.RunID, i) }

// Generate builds a deterministic workload for cfg.Seed. Each student has a
// hidden skill per concept; answers are correct with that probability.
// Attempts of one student are spaced an hour apart so their events order.
func Generate(cfg *Config) *Workload {
	cfg.withDefaults()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	w := &Workload{RunID: uuid.NewString()[:8]}
	for i := range cfg.Concepts {
		w.Concepts = append(w.Concepts, conceptName(i))
	}
	bank := cfg.Questions * 4

	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	seq := 0
	for c := range cfg.Courses {
		for s := range cfg.Students {
			skill := make([]float64, cfg.Concepts)
			for i := range skill {
				skill[i] = rng.Float64()
			}
			name := firstNames[s%len(firstNames)]
			for a := range cfg.Attempts {
				seq++
				at := base.Add(time.Duration(a) * time.Hour)
				att := Attempt{
					AttemptID: fmt.Sprintf("%s-a%d", w.RunID, seq),
					UserID:    w.user(s),
					CourseID:  w.course(c),
					QuizID:    fmt.Sprintf("quiz%d", a),
					QuizName:  fmt.Sprintf("Practice %d", a+1),
					FirstName: name,
				}
				for q, idx := range rng.Perm(bank)[:cfg.Questions] {
					concept := idx % cfg.Concepts
					att.Responses = append(att.Responses, Response{
						QuestionID: questionID(idx),
						Correct:    rng.Float64() < skill[concept],
						Timestamp:  at.Add(time.Duration(q) * time.Minute).Format(time.RFC3339),
					})
				}
				concept := rng.IntN(cfg.Concepts)
				att.History = append(att.History, HistoryEntry{
					ItemID:    activityID(concept),
					Type:      "assign",
					Grade:     skill[concept],
					Timestamp: at.Add(-30 * time.Minute).Format(time.RFC3339),
				})
				att.ContentViews = append(att.ContentViews, ContentView{
					ContentID:    contentID(rng.IntN(cfg.Concepts)),
					Type:         "page",
					ViewDuration: float64(30 + rng.IntN(600)),
					Timestamp:    at.Add(-45 * time.Minute).Format(time.RFC3339),
				})
				w.Attempts = append(w.Attempts, att)
			}
		}
	}
	return w
}

// Keys returns the distinct (user, course) pairs in submission order.
func (w *Workload) Keys() [][2]string {
	seen := make(map[string]struct{})
	var keys [][2]string
	for i := range w.Attempts {
		a := &w.Attempts[i]
		if _, ok := seen[a.Key()]; ok {
			continue
		}
		seen[a.Key()] = struct{}{}
		keys = append(keys, [2]string{a.UserID, a.CourseID})
	}
	return keys
}

type registryConcept struct {
	ID string `yaml:"id"`
}

type registryItem struct {
	ID       string   `yaml:"id"`
	Kind     string   `yaml:"kind"`
	Concepts []string `yaml:"concepts"`
}

type registryDoc struct {
	Concepts []registryConcept `yaml:"concepts"`
	Items    []registryItem    `yaml:"items"`
}

// RegistryYAML renders the concept registry the server needs for cfg's
// workload. It depends only on the counts in cfg, not on the seed.
func RegistryYAML(cfg *Config) ([]byte, error) {
	cfg.withDefaults()
	var doc registryDoc
	for i := range cfg.Concepts {
		doc.Concepts = append(doc.Concepts, registryConcept{ID: conceptName(i)})
		doc.Items = append(doc.Items,
			registryItem{ID: activityID(i), Kind: "activity", Concepts: []string{conceptName(i)}},
			registryItem{ID: contentID(i), Kind: "content", Concepts: []string{conceptName(i)}},
		)
	}
	for i := range cfg.Questions * 4 {
		doc.Items = append(doc.Items, registryItem{
			ID:       questionID(i),
			Kind:     "question",
			Concepts: []string{conceptName(i % cfg.Concepts)},
		})
	}
	return yaml.Marshal(doc)
}
