package recovery

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Intent is the coarse topic of a caregiver line.
type Intent string

const (
	IntentFeeling Intent = "feeling"
	IntentFever   Intent = "fever"
	IntentSymptom Intent = "symptom"
	IntentExam    Intent = "exam"
	IntentGeneric Intent = "generic"
)

// AllIntents lists every bucket. Generic is last and always the fallback.
var AllIntents = []Intent{IntentFeeling, IntentFever, IntentSymptom, IntentExam, IntentGeneric}

// Languages the banks are written in.
const (
	LangEnglish = "en"
	LangChinese = "zh"
)

// intentKeywords is checked in order; the first bucket with a hit wins.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentFeeling, []string{"感覺", "感觉", "怎麼樣", "怎么样", "how are you", "how do you feel", "how are you feeling", "feeling"}},
	{IntentFever, []string{"發燒", "发烧", "體溫", "体温", "不舒服", "fever", "temperature", "unwell", "chills"}},
	{IntentSymptom, []string{"症狀", "症状", "symptom", "hurt", "pain"}},
	{IntentExam, []string{"檢查", "检查", "exam", "test", "scan", "x-ray", "blood"}},
}

// ClassifyIntent buckets a caregiver line by keyword. Blank input is generic.
func ClassifyIntent(input string) Intent {
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return IntentGeneric
	}
	for _, ik := range intentKeywords {
		for _, kw := range ik.keywords {
			if strings.Contains(lower, kw) {
				return ik.intent
			}
		}
	}
	return IntentGeneric
}

// DetectLanguage picks the bank language: any Han character means Chinese.
func DetectLanguage(input string) string {
	for _, r := range input {
		if unicode.Is(unicode.Han, r) {
			return LangChinese
		}
	}
	return LangEnglish
}

// Banks maps language to intent to candidate replies.
type Banks map[string]map[Intent][]string

//go:embed banks.yaml
var defaultBanksYAML []byte

// DefaultBanks returns the built-in English and Chinese banks.
func DefaultBanks() Banks {
	b, err := ParseBanks(defaultBanksYAML)
	if err != nil {
		panic(fmt.Sprintf("recovery: embedded banks invalid: %v", err))
	}
	return b
}

// ParseBanks decodes and validates a YAML bank document.
func ParseBanks(data []byte) (Banks, error) {
	var raw map[string]map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse reply banks: %w", err)
	}
	b := make(Banks, len(raw))
	for lang, buckets := range raw {
		b[lang] = make(map[Intent][]string, len(buckets))
		for name, replies := range buckets {
			b[lang][Intent(name)] = replies
		}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadBanksFile reads a bank document from disk.
func LoadBanksFile(path string) (Banks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply banks: %w", err)
	}
	return ParseBanks(data)
}

// Validate requires English banks and, for every language present, a full
// set of buckets with at least CandidateCount non-blank replies each.
func (b Banks) Validate() error {
	if _, ok := b[LangEnglish]; !ok {
		return fmt.Errorf("reply banks: missing %q language", LangEnglish)
	}
	for lang, buckets := range b {
		for _, intent := range AllIntents {
			n := 0
			for _, r := range buckets[intent] {
				if strings.TrimSpace(r) != "" {
					n++
				}
			}
			if n < CandidateCount {
				return fmt.Errorf("reply banks: %s/%s has %d replies, need %d", lang, intent, n, CandidateCount)
			}
		}
	}
	return nil
}

// bucket returns the replies for lang and intent, falling back to English.
func (b Banks) bucket(lang string, intent Intent) []string {
	if buckets, ok := b[lang]; ok {
		return buckets[intent]
	}
	return b[LangEnglish][intent]
}
