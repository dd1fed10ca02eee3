package degradation

import (
	"regexp"
	"strings"
)

// Indicator tables for the heuristic scorers. Every table carries English
// and Chinese (Traditional and Simplified) entries; matching is a
// case-insensitive substring test unless a table holds regexps.

// Terms that show the reply is spoken from inside the patient role.
var patientIndicators = []string{
	"病患", "手術", "治療", "醫師", "檢查",
	"手术", "治疗", "医师", "检查",
	"doctor", "nurse", "surgery", "operation", "treatment", "hospital", "medicine", "wound",
}

// Concrete medical content in a reply.
var medicalTerms = []string{
	"手術", "傷口", "腫脹", "疼痛", "治療", "康復",
	"手术", "伤口", "肿胀", "治疗", "康复",
	"surgery", "wound", "swelling", "swollen", "pain", "treatment", "recovery", "fever", "temperature",
}

// contextKeywords maps a dialogue-context label fragment to words a
// relevant reply would use. The first matching context wins.
type contextKeywords struct {
	context  string
	keywords []string
}

var contextKeywordTable = []contextKeywords{
	{"醫師查房", []string{"查房", "醫師", "身體", "狀況"}},
	{"身體評估", []string{"評估", "症狀", "感覺", "不舒服"}},
	{"檢查相關", []string{"檢查", "安排", "準備", "配合"}},
	{"医师查房", []string{"查房", "医师", "身体", "状况"}},
	{"身体评估", []string{"评估", "症状", "感觉", "不舒服"}},
	{"检查相关", []string{"检查", "安排", "准备", "配合"}},
	{"ward_round", []string{"doctor", "round", "body", "condition"}},
	{"fever", []string{"fever", "temperature", "hot", "chills"}},
	{"pain", []string{"pain", "hurt", "ache", "sore"}},
	{"symptom", []string{"symptom", "feel", "since", "started"}},
	{"assessment", []string{"assess", "symptom", "feel", "uncomfortable"}},
	{"exam", []string{"test", "exam", "scan", "blood", "prepare", "ready"}},
}

// Context labels that mean the model fell back to a catch-all situation.
var genericContextLabels = []string{
	"一般問診對話", "一般问诊对话",
	"general inquiry", "general_inquiry", "general conversation", "general_conversation",
}

// expectedContexts lists the situations a scripted encounter is expected
// to be in at each early round.
var expectedContexts = map[int][]string{
	1: {"醫師查房", "初次接觸", "医师查房", "初次接触", "ward_round", "first_contact", "greeting"},
	2: {"身體評估", "症狀詢問", "身体评估", "症状询问", "physical_assessment", "symptom_inquiry"},
	3: {"身體評估", "詳細評估", "身体评估", "详细评估", "physical_assessment", "detailed_assessment"},
	4: {"症狀評估", "醫師查房", "症状评估", "医师查房", "symptom_assessment", "ward_round"},
	5: {"檢查相關", "治療安排", "检查相关", "治疗安排", "examination", "treatment_planning"},
}

// Words that show the reasoning engaged with the role and situation.
var reasoningIndicators = []string{
	"角色", "病患", "醫療", "情境", "症狀", "評估", "分析", "考慮", "根據",
	"医疗", "症状", "评估", "考虑", "根据",
	"character", "patient", "medical", "context", "symptom", "assess", "analy", "consider", "based on",
}

// Structured-thinking phrasing in the reasoning.
var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`考慮到.*情況|考虑到.*情况`),
	regexp.MustCompile(`基於.*分析|基于.*分析`),
	regexp.MustCompile(`從.*角度|从.*角度`),
	regexp.MustCompile(`(?i)\bconsider(?:ing)?\b.*\b(?:situation|condition|history)\b`),
	regexp.MustCompile(`(?i)\bbased on\b.*\b(?:analysis|history|what)\b`),
	regexp.MustCompile(`(?i)\bfrom (?:the|a|his|her|their) .*(?:perspective|point of view)\b`),
}

// roleBreakPatterns catch the model stepping out of the patient role.
var roleBreakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`助手.*模式|AI.*系統|AI.*系统|忘記.*角色|忘记.*角色`),
	regexp.MustCompile(`(?i)\bas an? (?:AI|language model|assistant|chatbot)\b`),
	regexp.MustCompile(`(?i)\bI(?:'m| am) (?:an? )?(?:AI|artificial intelligence|language model|virtual assistant|chatbot)\b`),
	regexp.MustCompile(`(?i)\b(?:assistant|system) mode\b`),
	regexp.MustCompile(`(?i)\bforgot (?:my|the) (?:role|character)\b`),
}

// contextConfusionPatterns catch a model unsure which situation it is in.
var contextConfusionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`不確定.*情境|不确定.*情境|混亂.*狀態|混乱.*状态`),
	regexp.MustCompile(`(?i)\bnot sure (?:what|which) (?:situation|context|scenario)\b`),
	regexp.MustCompile(`(?i)\bconfus(?:ed|ion) (?:about )?(?:the )?(?:context|situation|state)\b`),
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func containsAny(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

func countContained(s string, subs []string) int {
	lower := strings.ToLower(s)
	n := 0
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			n++
		}
	}
	return n
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
