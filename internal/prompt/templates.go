package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Persona selects the system prompt voice.
type Persona string

const (
	PersonaGeneral    Persona = "general"
	PersonaSales      Persona = "sales"
	PersonaComparison Persona = "comparison"
)

// Task names a single-shot prompt template.
type Task string

const (
	TaskDescribe  Task = "describe"
	TaskCompare   Task = "compare"
	TaskMarket    Task = "market"
	TaskRecommend Task = "recommend"
	TaskAsk       Task = "ask"
)

const (
	LangArabic  = "ar"
	LangEnglish = "en"
)

var languages = []string{LangArabic, LangEnglish}

var personas = []Persona{PersonaGeneral, PersonaSales, PersonaComparison}

var tasks = []Task{TaskDescribe, TaskCompare, TaskMarket, TaskRecommend, TaskAsk}

//go:embed templates.json
var defaultTemplates []byte

// Templates is the immutable prompt table, keyed by language first.
type Templates struct {
	Personas map[string]map[Persona]string `json:"personas"`
	Tasks    map[string]map[Task]string    `json:"tasks"`
	Styles   map[string]map[string]string  `json:"styles"`
	Labels   map[string]map[string]string  `json:"labels"`
}

// LoadTemplates parses the built-in table and, when overridePath is set, layers
// the entries of that file on top of it.
func LoadTemplates(overridePath string) (*Templates, error) {
	var t Templates
	if err := json.Unmarshal(defaultTemplates, &t); err != nil {
		return nil, fmt.Errorf("decode built-in templates: %w", err)
	}
	if overridePath != "" {
		raw, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read templates %s: %w", overridePath, err)
		}
		var override Templates
		if err := json.Unmarshal(raw, &override); err != nil {
			return nil, fmt.Errorf("decode templates %s: %w", overridePath, err)
		}
		t.merge(&override)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// MustLoadDefault returns the built-in table and panics if it is malformed.
func MustLoadDefault() *Templates {
	t, err := LoadTemplates("")
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Templates) merge(o *Templates) {
	for lang, m := range o.Personas {
		for k, v := range m {
			setNested(&t.Personas, lang, k, v)
		}
	}
	for lang, m := range o.Tasks {
		for k, v := range m {
			setNested(&t.Tasks, lang, k, v)
		}
	}
	for lang, m := range o.Styles {
		for k, v := range m {
			setNested(&t.Styles, lang, k, v)
		}
	}
	for lang, m := range o.Labels {
		for k, v := range m {
			setNested(&t.Labels, lang, k, v)
		}
	}
}

func setNested[K comparable](dst *map[string]map[K]string, lang string, key K, value string) {
	if *dst == nil {
		*dst = map[string]map[K]string{}
	}
	if (*dst)[lang] == nil {
		(*dst)[lang] = map[K]string{}
	}
	(*dst)[lang][key] = value
}

func (t *Templates) validate() error {
	for _, lang := range languages {
		for _, p := range personas {
			if strings.TrimSpace(t.Personas[lang][p]) == "" {
				return fmt.Errorf("templates: missing persona %s/%s", lang, p)
			}
		}
		for _, task := range tasks {
			if strings.TrimSpace(t.Tasks[lang][task]) == "" {
				return fmt.Errorf("templates: missing task %s/%s", lang, task)
			}
		}
	}
	return nil
}

// NormalizeLanguage maps anything other than English onto Arabic.
func NormalizeLanguage(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), LangEnglish) {
		return LangEnglish
	}
	return LangArabic
}

// Persona returns the system prompt, falling back to the general persona.
func (t *Templates) Persona(lang string, p Persona) string {
	byLang := t.Personas[NormalizeLanguage(lang)]
	if s, ok := byLang[p]; ok && s != "" {
		return s
	}
	return byLang[PersonaGeneral]
}

// Style returns the localized style phrase, or "" for an unknown style.
func (t *Templates) Style(lang, style string) string {
	return t.Styles[NormalizeLanguage(lang)][strings.ToLower(style)]
}

// HasStyle reports whether style is a known description style.
func (t *Templates) HasStyle(style string) bool {
	_, ok := t.Styles[LangEnglish][strings.ToLower(style)]
	return ok
}

// Label localizes a record field key; unknown keys are returned as-is.
func (t *Templates) Label(lang, key string) string {
	if l, ok := t.Labels[NormalizeLanguage(lang)][key]; ok {
		return l
	}
	return key
}
