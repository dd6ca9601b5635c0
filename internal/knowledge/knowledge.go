// Package knowledge holds the SATI knowledge base and builds the prompts the
// router sends for institution questions.
package knowledge

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"sati-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

//go:embed sections/*.md
var embedded embed.FS

// Section keys
const (
	Overview     = "institute_overview"
	History      = "history"
	Programs     = "academic_programs"
	Campus       = "campus_facilities"
	StudentLife  = "student_life"
	Placements   = "placements"
	Alumni       = "notable_alumni"
	Location     = "location_connectivity"
	promptKey    = "assistant_prompt"
	defaultTopic = "Tell me about SATI Vidisha."
)

var sectionKeys = []string{Overview, History, Programs, Campus, StudentLife, Placements, Alumni, Location, promptKey}

// topics pick the sections relevant to a query, in prompt order
var topics = []struct {
	pattern *regexp.Regexp
	section string
}{
	{regexp.MustCompile(`(?i)history|established|founded|background|ashoka`), History},
	{regexp.MustCompile(`(?i)course|program|degree|btech|mtech|mba|admission`), Programs},
	{regexp.MustCompile(`(?i)hostel|accommodation|facility|campus|library`), Campus},
	{regexp.MustCompile(`(?i)placement|job|salary|company|career`), Placements},
	{regexp.MustCompile(`(?i)club|activity|sports|student life|ncc|nss`), StudentLife},
	{regexp.MustCompile(`(?i)alumni|kailash satyarthi|notable|famous`), Alumni},
}

var keywords = []string{
	"sati", "samrat ashok", "technological institute", "vidisha",
	"admission", "placement", "hostel", "course", "program", "branch",
	"fee", "faculty", "library", "campus", "facility", "history",
	"kailash satyarthi", "rgpv", "naac", "nba",
}

var enhanced = map[string]string{
	"admissions": "How do I get admission to SATI Vidisha? Please include JEE Main cutoffs (branch-wise trends), eligibility, admission steps, important dates, required documents, fee structure, and reservation/quota details with timeline and tips for applicants.",
	"academics":  "What B.Tech and M.Tech programs does SATI Vidisha offer? Please include curriculum details, semester-wise subjects, specializations, faculty expertise, labs, academic calendar, exam pattern, grading system, and unique academic features.",
	"placements": "What are SATI Vidisha's placement records? Please include recent placement stats, top recruiters, branch-wise average and highest salary packages, placement rates, pre-placement training, internships, career services, alumni network, and notable alumni success stories.",
	"campus":     "Tell me about SATI Vidisha's campus facilities. Include hostel types and amenities, mess and food quality, accommodation options, infrastructure, sports and recreation, medical services, library, internet, transport, campus environment, hostel fees, and room allocation process.",
	"activities": "What activities can I join at SATI Vidisha? Please share details about technical clubs, cultural groups, sports teams, fests and events, inter-college competitions, student leadership roles, community service, and notable student achievements.",
	"institute":  "Tell me about SATI Vidisha's background. Include its history, key milestones, accreditations, rankings, notable alumni, faculty achievements, research, industry tie-ups, infrastructure growth, and overall reputation in Madhya Pradesh and India.",
}

// Base is a loaded knowledge base
type Base struct {
	sections map[string]string
}

// Default returns the knowledge base compiled into the binary
func Default() *Base {
	b, err := load(nil)
	if err != nil {
		// embedded files are part of the build
		panic(err)
	}
	return b
}

// LoadDir reads section files (<key>.md) from dir. Sections missing from dir
// keep their built-in text.
func LoadDir(dir string) (*Base, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading knowledge directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge path %s is not a directory", dir)
	}
	return load(os.DirFS(dir))
}

func load(override fs.FS) (*Base, error) {
	b := &Base{sections: make(map[string]string, len(sectionKeys))}
	overridden := 0

	for _, key := range sectionKeys {
		name := key + ".md"
		if override != nil {
			data, err := fs.ReadFile(override, name)
			if err == nil {
				b.sections[key] = strings.TrimSpace(string(data))
				overridden++
				continue
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("error reading section %s: %w", key, err)
			}
		}
		data, err := embedded.ReadFile("sections/" + name)
		if err != nil {
			return nil, fmt.Errorf("error reading built-in section %s: %w", key, err)
		}
		b.sections[key] = strings.TrimSpace(string(data))
	}

	if override != nil {
		logger.Log.WithFields(logrus.Fields{"overridden": overridden, "total": len(sectionKeys)}).Info("Loaded knowledge base overrides")
	}
	return b, nil
}

// Section returns the text of one section
func (b *Base) Section(key string) string {
	return b.sections[key]
}

// IsRelated reports whether text mentions any institution keyword
func (b *Base) IsRelated(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ContextualPrompt wraps query in the assistant prompt plus the sections its
// topics call for. The overview is used when no topic matches.
func (b *Base) ContextualPrompt(query string) string {
	var parts []string
	for _, t := range topics {
		if t.pattern.MatchString(query) {
			parts = append(parts, b.sections[t.section])
		}
	}
	if len(parts) == 0 {
		parts = append(parts, b.sections[Overview])
	}

	return fmt.Sprintf("%s\n\nRELEVANT CONTEXT FOR YOUR QUERY:\n%s\n\nUser Query: %s\n\nPlease provide a helpful and accurate response based on the above information.",
		b.sections[promptKey], strings.Join(parts, "\n\n"), query)
}

// GeneralPrompt wraps a question that is not about the institution
func GeneralPrompt(query string) string {
	return "You are a helpful AI assistant. Please provide a comprehensive and accurate response to the following question: " + query
}

// EnhancedPrompt returns a canned starter question for a topic
func EnhancedPrompt(kind string) string {
	if p, ok := enhanced[kind]; ok {
		return p
	}
	return defaultTopic
}

// EnhancedKinds lists the starter topics
func EnhancedKinds() []string {
	return []string{"admissions", "academics", "placements", "campus", "activities", "institute"}
}
