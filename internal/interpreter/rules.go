package interpreter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/chairside/internal/model"
)

// SourceRules はルールベース解釈器の名前。
const SourceRules = "rules"

const (
	fallbackReply = "I can help you book an appointment. When would you like to come in?"
	declineReply  = "Okay, I will not book that time. When works better?"
)

var (
	affirmPhrases = []string{"yes", "yeah", "yep", "confirm", "sure", "ok", "okay", "please book", "book it"}
	negatePhrases = []string{"no", "nope", "cancel", "don't", "do not", "not now", "later"}

	affirmPattern = phrasePattern(affirmPhrases)
	negatePattern = phrasePattern(negatePhrases)

	timePattern = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)

	// 出現位置ではなくこの順で最初に含まれる曜日を採用する
	weekdayNames = []struct {
		name string
		day  time.Weekday
	}{
		{"monday", time.Monday},
		{"tuesday", time.Tuesday},
		{"wednesday", time.Wednesday},
		{"thursday", time.Thursday},
		{"friday", time.Friday},
		{"saturday", time.Saturday},
		{"sunday", time.Sunday},
	}
)

// phrasePattern は語句のいずれかに単語単位で一致する正規表現を組み立てる。
func phrasePattern(phrases []string) *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Rules は曜日と時刻の素朴な抽出と、肯定・否定の語彙による確認応答を行う解釈器。
type Rules struct {
	loc *time.Location
	now func() time.Time
}

// NewRules はRulesを生成する。locは候補時刻を解釈するクリニックのタイムゾーン。
func NewRules(loc *time.Location) *Rules {
	if loc == nil {
		loc = time.UTC
	}
	return &Rules{loc: loc, now: time.Now}
}

// Interpret は発話を解釈する。失敗することはない。
func (r *Rules) Interpret(_ context.Context, req Request) (*Result, error) {
	if res := r.React(req); res != nil {
		return res, nil
	}

	if candidate, ok := r.ExtractCandidate(req.Message); ok {
		return &Result{
			Reply:             fmt.Sprintf("Great! I can tentatively book you for %s. Shall I confirm?", candidate),
			Candidate:         candidate,
			Intent:            model.IntentPropose,
			NeedsConfirmation: true,
			Source:            SourceRules,
		}, nil
	}

	return &Result{
		Reply:  fallbackReply,
		Intent: model.IntentChat,
		Source: SourceRules,
	}, nil
}

// React は確認待ちの候補に対する肯定・否定の応答を判定する。
// 候補がない場合、または肯定・否定のどちらでもない場合はnilを返す。
// 肯定は否定より優先する。
func (r *Rules) React(req Request) *Result {
	if req.PendingCandidate == "" {
		return nil
	}
	low := strings.ToLower(strings.TrimSpace(req.Message))

	if low == "y" || affirmPattern.MatchString(low) {
		return &Result{
			Reply:     fmt.Sprintf("Confirming your appointment for %s.", req.PendingCandidate),
			Candidate: req.PendingCandidate,
			Intent:    model.IntentConfirm,
			Source:    SourceRules,
		}
	}
	if low == "n" || negatePattern.MatchString(low) {
		return &Result{
			Reply:  declineReply,
			Intent: model.IntentDecline,
			Source: SourceRules,
		}
	}
	return nil
}

// ExtractCandidate は発話から曜日と時刻を取り出し、候補時刻をRFC3339で返す。
// 曜日は次に来るその曜日で、今日と同じ曜日なら翌週になる。
// 時刻の指定がなければ現在の時分を使う。
func (r *Rules) ExtractCandidate(text string) (string, bool) {
	low := strings.ToLower(text)

	var (
		day   time.Weekday
		found bool
	)
	for _, wd := range weekdayNames {
		if strings.Contains(low, wd.name) {
			day, found = wd.day, true
			break
		}
	}
	if !found {
		return "", false
	}

	now := r.now().In(r.loc)
	delta := (int(day) - int(now.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	target := now.AddDate(0, 0, delta)
	hour, minute := target.Hour(), target.Minute()

	if m := timePattern.FindStringSubmatch(low); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		switch {
		case m[3] == "pm" && h < 12:
			h += 12
		case m[3] == "am" && h == 12:
			h = 0
		}
		if h > 23 || mm > 59 {
			return "", false
		}
		hour, minute = h, mm
	}

	slot := time.Date(target.Year(), target.Month(), target.Day(), hour, minute, 0, 0, r.loc)
	return model.FormatSlot(slot), true
}
