// Package ranking compares tracked rooms against a reference room.
package ranking

import (
	"fmt"
	"math"
	"sort"

	"github.com/osa030/giftrank/internal/domain/history"
)

// Thresholds used by the comparator.
const (
	PredictionHorizonMinutes = 60.0
	WarningGap               = 10000
	DangerGap                = 2000

	opportunityMinutes    = 5.0
	threatMinutes         = 10.0
	threatOverrideMinutes = 3.0
	surgeVelocityFactor   = 1.5
)

// Prediction is the forecast relation between a row and the reference.
type Prediction int

const (
	PredictionNone  Prediction = iota
	WillOvertake               // Row is behind and faster: it will pass the reference
	WillBeOvertaken            // Row is ahead and slower: the reference will pass it
)

// String returns the string representation of the prediction.
func (p Prediction) String() string {
	switch p {
	case WillOvertake:
		return "will_overtake"
	case WillBeOvertaken:
		return "will_be_overtaken"
	default:
		return "none"
	}
}

// Danger is the closeness of a neighbouring row to the reference.
type Danger int

const (
	DangerSafe Danger = iota
	DangerWarning
	DangerDanger
)

// String returns the string representation of the danger level.
func (d Danger) String() string {
	switch d {
	case DangerWarning:
		return "warning"
	case DangerDanger:
		return "danger"
	default:
		return "safe"
	}
}

// AlertKind is the kind of the top-level alert.
type AlertKind int

const (
	AlertNormal AlertKind = iota
	AlertAnomaly
	AlertOpportunity
	AlertThreat
	AlertSurge
)

// String returns the string representation of the alert kind.
func (k AlertKind) String() string {
	switch k {
	case AlertAnomaly:
		return "anomaly"
	case AlertOpportunity:
		return "opportunity"
	case AlertThreat:
		return "threat"
	case AlertSurge:
		return "surge"
	default:
		return "normal"
	}
}

// AlertLevel is the severity of the top-level alert.
type AlertLevel int

const (
	LevelNormal AlertLevel = iota
	LevelWarning
	LevelCritical
	LevelAnomaly
)

// String returns the string representation of the alert level.
func (l AlertLevel) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelAnomaly:
		return "anomaly"
	default:
		return "normal"
	}
}

// Entry is the comparator input for one room.
type Entry struct {
	Index    int
	RoomID   string
	RoomName string
	Total    int64
	Velocity int64 // Points per minute over the last 60 s
	Trend    history.Trend
}

// Row is the comparator output for one room.
type Row struct {
	Index            int
	RoomID           string
	RoomName         string
	Rank             int // 1-based
	Total            int64
	Velocity         int64
	Gap              int64    // Total minus the reference total
	IsReference      bool
	Prediction       Prediction
	PredictedMinutes *float64 // Minutes until the crossover, nil without a prediction
	Danger           Danger
	Trend            history.Trend
}

// Alert is the single top-level message of a ranking result.
type Alert struct {
	Kind    AlertKind
	Level   AlertLevel
	Index   int     // Subject room, -1 for none
	Rank    int     // Subject rank, 0 for none
	Minutes int     // Rounded-up minutes for opportunity and threat
	Ratio   float64 // Trend ratio for anomaly
	Message string
}

// Result is a ranking computed from one set of entries. It is never mutated.
type Result struct {
	Rows           []Row // In index order
	ReferenceIndex int   // -1 when there are no rows
	Alert          Alert
}

// Compute ranks the entries and compares them with the reference.
// If no entry has the reference index, the first entry is the reference.
func Compute(entries []Entry, reference int) Result {
	if len(entries) == 0 {
		return Result{Rows: []Row{}, ReferenceIndex: -1, Alert: normalAlert()}
	}

	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	ranks := rankByTotal(ordered)

	ref := ordered[0]
	for _, e := range ordered {
		if e.Index == reference {
			ref = e
			break
		}
	}
	refRank := ranks[ref.Index]

	rows := make([]Row, 0, len(ordered))
	for _, e := range ordered {
		row := Row{
			Index:       e.Index,
			RoomID:      e.RoomID,
			RoomName:    e.RoomName,
			Rank:        ranks[e.Index],
			Total:       e.Total,
			Velocity:    e.Velocity,
			IsReference: e.Index == ref.Index,
			Trend:       e.Trend,
		}
		if !row.IsReference {
			compare(&row, ref, refRank)
		}
		rows = append(rows, row)
	}

	return Result{
		Rows:           rows,
		ReferenceIndex: ref.Index,
		Alert:          buildAlert(rows, ref.Index),
	}
}

// rankByTotal returns index -> 1-based rank. Ties go to the lower index.
func rankByTotal(ordered []Entry) map[int]int {
	byTotal := make([]Entry, len(ordered))
	copy(byTotal, ordered)
	sort.SliceStable(byTotal, func(i, j int) bool { return byTotal[i].Total > byTotal[j].Total })

	ranks := make(map[int]int, len(byTotal))
	for i, e := range byTotal {
		ranks[e.Index] = i + 1
	}
	return ranks
}

func compare(row *Row, ref Entry, refRank int) {
	row.Gap = row.Total - ref.Total
	relVel := row.Velocity - ref.Velocity

	switch {
	case row.Gap < 0 && relVel > 0:
		minutes := math.Abs(float64(row.Gap)) / float64(relVel)
		if minutes < PredictionHorizonMinutes {
			row.Prediction = WillOvertake
			row.PredictedMinutes = &minutes
		}
	case row.Gap > 0 && relVel < 0:
		minutes := float64(row.Gap) / math.Abs(float64(relVel))
		if minutes < PredictionHorizonMinutes {
			row.Prediction = WillBeOvertaken
			row.PredictedMinutes = &minutes
		}
	}

	rankDiff := row.Rank - refRank
	if rankDiff != 1 && rankDiff != -1 {
		return
	}
	gap := row.Gap
	if gap < 0 {
		gap = -gap
	}
	if gap < WarningGap {
		row.Danger = DangerWarning
	}
	if gap < DangerGap || row.Prediction != PredictionNone {
		row.Danger = DangerDanger
	}
}

func normalAlert() Alert {
	return Alert{Kind: AlertNormal, Level: LevelNormal, Index: -1, Message: "monitoring"}
}

func buildAlert(rows []Row, refIndex int) Alert {
	var anomaly *Row
	for i := range rows {
		r := &rows[i]
		if !r.Trend.Abnormal {
			continue
		}
		if anomaly == nil || r.Trend.Ratio > anomaly.Trend.Ratio {
			anomaly = r
		}
	}
	if anomaly != nil {
		return Alert{
			Kind:    AlertAnomaly,
			Level:   LevelAnomaly,
			Index:   anomaly.Index,
			Rank:    anomaly.Rank,
			Ratio:   anomaly.Trend.Ratio,
			Message: fmt.Sprintf("rank %d is accelerating abnormally (%.1fx usual)", anomaly.Rank, anomaly.Trend.Ratio),
		}
	}

	var ref, above, below *Row
	for i := range rows {
		if rows[i].Index == refIndex {
			ref = &rows[i]
		}
	}
	if ref == nil {
		return normalAlert()
	}
	for i := range rows {
		switch rows[i].Rank {
		case ref.Rank - 1:
			above = &rows[i]
		case ref.Rank + 1:
			below = &rows[i]
		}
	}

	alert := normalAlert()

	if above != nil && ref.Velocity > above.Velocity {
		catch := float64(above.Total-ref.Total) / float64(ref.Velocity-above.Velocity)
		if catch > 0 && catch < opportunityMinutes {
			minutes := int(math.Ceil(catch))
			alert = Alert{
				Kind:    AlertOpportunity,
				Level:   LevelCritical,
				Index:   above.Index,
				Rank:    above.Rank,
				Minutes: minutes,
				Message: fmt.Sprintf("opportunity: can pass rank %d in %d min", above.Rank, minutes),
			}
		}
	}

	if below != nil {
		caught := -1.0
		if below.Velocity > ref.Velocity {
			caught = float64(ref.Total-below.Total) / float64(below.Velocity-ref.Velocity)
		}
		switch {
		case caught > 0 && caught < threatMinutes:
			if alert.Level != LevelCritical || caught < threatOverrideMinutes {
				minutes := int(math.Ceil(caught))
				alert = Alert{
					Kind:    AlertThreat,
					Level:   LevelCritical,
					Index:   below.Index,
					Rank:    below.Rank,
					Minutes: minutes,
					Message: fmt.Sprintf("warning: rank %d will pass in %d min", below.Rank, minutes),
				}
			}
		case float64(below.Velocity) > float64(ref.Velocity)*surgeVelocityFactor:
			if alert.Level == LevelNormal {
				alert = Alert{
					Kind:    AlertSurge,
					Level:   LevelWarning,
					Index:   below.Index,
					Rank:    below.Rank,
					Message: fmt.Sprintf("caution: rank %d is speeding up", below.Rank),
				}
			}
		}
	}

	return alert
}

// Row returns the row for an index.
func (r Result) Row(index int) (Row, bool) {
	for _, row := range r.Rows {
		if row.Index == index {
			return row, true
		}
	}
	return Row{}, false
}
