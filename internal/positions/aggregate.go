package positions

import (
	"math"
	"sort"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
)

// tally accumulates one person-topic group.
type tally struct {
	key         model.PositionKey
	latestDate  string
	latestID    int64
	numer       float64
	denom       float64
	signals     int
	support     int
	oppose      int
	mixed       int
	lastEvDate  string
	initialized bool
}

func (t *tally) add(ev model.TopicEvidence) {
	if !t.initialized || ev.EvidenceDate > t.latestDate ||
		(ev.EvidenceDate == t.latestDate && ev.EvidenceID > t.latestID) {
		t.latestDate, t.latestID = ev.EvidenceDate, ev.EvidenceID
		t.key.MandateID = ev.MandateID
		t.initialized = true
	}
	if ev.EvidenceDate > t.lastEvDate {
		t.lastEvDate = ev.EvidenceDate
	}
	if ev.Stance != nil && *ev.Stance == model.StanceNoSignal {
		return
	}
	t.signals++
	if ev.Stance != nil && *ev.Stance == model.StanceMixed {
		t.mixed++
	}
	p := *ev.Polarity
	switch p {
	case 1:
		t.support++
	case -1:
		t.oppose++
	default:
		return
	}
	w := ev.Weight * confidenceOf(ev)
	t.numer += float64(p) * w
	t.denom += w
}

// confidenceOf treats an unscored row as certain. Recorded votes carry no
// classifier confidence.
func confidenceOf(ev model.TopicEvidence) float64 {
	if ev.Confidence == nil {
		return 1
	}
	return *ev.Confidence
}

func (t *tally) score() float64 {
	if t.denom <= 0 {
		return 0
	}
	return round6(t.numer / t.denom)
}

// decide applies the stance decision table in order.
func (t *tally) decide(p rules.AggregateParams) model.Stance {
	score := t.score()
	switch {
	case t.signals == 0:
		return model.StanceNoSignal
	case t.denom <= 0 && t.mixed > 0:
		return model.StanceMixed
	case t.denom <= 0:
		return model.StanceUnclear
	case score > p.SupportThreshold:
		return model.StanceSupport
	case score < p.OpposeThreshold:
		return model.StanceOppose
	case t.support > 0 && t.oppose > 0:
		return model.StanceMixed
	default:
		return model.StanceUnclear
	}
}

func (t *tally) position(p rules.AggregateParams) model.TopicPosition {
	conf := 0.0
	if p.ConfidenceDivisor > 0 {
		conf = round6(math.Min(1, float64(t.signals)/p.ConfidenceDivisor))
	}
	return model.TopicPosition{
		PositionKey:      t.key,
		Stance:           t.decide(p),
		Score:            t.score(),
		Confidence:       conf,
		EvidenceCount:    t.signals,
		LastEvidenceDate: t.lastEvDate,
	}
}

// Aggregate groups evidence rows and returns one position per group in key
// order. When byMandate is false the mandate does not split groups and the
// position takes the mandate of the most recent row.
func Aggregate(rows []model.TopicEvidence, byMandate bool, p rules.AggregateParams) []model.TopicPosition {
	groups := make(map[model.PositionKey]*tally)
	for _, ev := range rows {
		if ev.Polarity == nil || !model.ValidPolarity(*ev.Polarity) {
			continue
		}
		k := model.PositionKey{TopicSetID: ev.TopicSetID, TopicID: ev.TopicID, PersonID: ev.PersonID}
		if byMandate {
			k.MandateID = ev.MandateID
		}
		t, ok := groups[k]
		if !ok {
			t = &tally{key: k}
			groups[k] = t
		}
		t.add(ev)
	}

	out := make([]model.TopicPosition, 0, len(groups))
	for _, t := range groups {
		out = append(out, t.position(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionKey.Less(out[j].PositionKey) })
	return out
}

// SelectCombined picks one source position per (topic set, topic, person,
// mandate): the latest votes row, else the latest declared row. Latest means
// greatest computed_at, then greatest position id. Values are copied, never
// blended.
func SelectCombined(candidates []model.TopicPosition) []model.TopicPosition {
	best := make(map[model.PositionKey]model.TopicPosition)
	for _, c := range candidates {
		if c.ComputedMethod != model.MethodVotes && c.ComputedMethod != model.MethodDeclared {
			continue
		}
		cur, ok := best[c.PositionKey]
		if !ok || preferred(c, cur) {
			best[c.PositionKey] = c
		}
	}

	out := make([]model.TopicPosition, 0, len(best))
	for _, b := range best {
		id := b.PositionID
		out = append(out, model.TopicPosition{
			PositionKey:      b.PositionKey,
			Stance:           b.Stance,
			Score:            b.Score,
			Confidence:       b.Confidence,
			EvidenceCount:    b.EvidenceCount,
			LastEvidenceDate: b.LastEvidenceDate,
			SourcePositionID: &id,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionKey.Less(out[j].PositionKey) })
	return out
}

func preferred(a, b model.TopicPosition) bool {
	if a.ComputedMethod != b.ComputedMethod {
		return a.ComputedMethod == model.MethodVotes
	}
	if !a.ComputedAt.Equal(b.ComputedAt) {
		return a.ComputedAt.After(b.ComputedAt)
	}
	return a.PositionID > b.PositionID
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
