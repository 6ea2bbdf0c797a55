package geolocate

import (
	"math"
	"slices"
)

type modelState uint8

const (
	modelOpen modelState = iota
	modelLocal
	modelFinished
)

func (s modelState) String() string {
	switch s {
	case modelOpen:
		return "open"
	case modelLocal:
		return "locally finished"
	default:
		return "finished"
	}
}

// GuardFunc is told about every probability pair excluded from a logarithm.
// part is the divergence component (1-4) and key the event involved, or 0
// for the closed-form components.
type GuardFunc func(part int, key uint64, p, q float64)

// eventDist is a count distribution over one event space with
// pseudo-Good-Turing smoothing. Seen events get count/tokens*(1-unseenMass);
// the remaining mass goes to unseen events in proportion to their
// background probability.
type eventDist[K eventKey] struct {
	counts map[K]float64
	tokens float64
	keys   []K // sorted, set by finishLocal

	seenOnce          int
	unseenMass        float64
	overallUnseenMass float64
	global            *globalDist[K]
}

func newEventDist[K eventKey]() eventDist[K] {
	return eventDist[K]{
		counts:            make(map[K]float64),
		unseenMass:        DefaultSmoothing().MaxUnseenMass,
		overallUnseenMass: 1,
	}
}

func (d *eventDist[K]) add(k K, n float64) {
	if n <= 0 {
		return
	}
	d.counts[k] += n
	d.tokens += n
}

func (d *eventDist[K]) merge(o *eventDist[K]) {
	for k, c := range o.counts {
		d.counts[k] += c
	}
	d.tokens += o.tokens
}

// interpolate blends d with parent, scaling the parent to d's token total so
// the blend keeps d.tokens unchanged.
func (d *eventDist[K]) interpolate(parent *eventDist[K], weight float64) {
	if d.tokens <= 0 || parent.tokens <= 0 || weight <= 0 {
		return
	}
	scale := weight * d.tokens / parent.tokens
	for k := range d.counts {
		d.counts[k] *= 1 - weight
	}
	for k, c := range parent.counts {
		d.counts[k] += c * scale
	}
}

func (d *eventDist[K]) finishLocal(minCount int, p SmoothingParams) {
	if minCount > 1 {
		for k, c := range d.counts {
			if c < float64(minCount) {
				d.tokens -= c
				delete(d.counts, k)
			}
		}
	}
	d.keys = make([]K, 0, len(d.counts))
	d.seenOnce = 0
	for k, c := range d.counts {
		d.keys = append(d.keys, k)
		if c == 1 {
			d.seenOnce++
		}
	}
	slices.Sort(d.keys)
	if d.tokens > 0 {
		d.unseenMass = math.Min(p.MaxUnseenMass, math.Max(p.MinSeenOnce, float64(d.seenOnce))/d.tokens)
	} else {
		d.unseenMass = p.MaxUnseenMass
	}
}

func (d *eventDist[K]) finishGlobal(g *globalDist[K]) {
	var seen float64
	for _, k := range d.keys {
		seen += g.probs[k]
	}
	d.overallUnseenMass = 1 - seen
	d.global = g
}

func (d *eventDist[K]) prob(k K) float64 {
	if c, ok := d.counts[k]; ok {
		return c / d.tokens * (1 - d.unseenMass)
	}
	if gp, ok := d.global.probs[k]; ok {
		if d.overallUnseenMass <= 0 {
			return 0
		}
		return d.unseenMass * gp / d.overallUnseenMass
	}
	return d.global.unseenEventProb(d.unseenMass)
}

func klTerm(p, q float64) float64 {
	return p * (math.Log(p) - math.Log(q))
}

// kl computes KL(d || o) over the whole event space:
//
//  1. events seen in d;
//  2. events seen in o but not in d;
//  3. events seen globally but in neither, in closed form;
//  4. events never seen, in closed form.
//
// partial stops after part 1. Keys are visited in sorted order so equal
// states produce bit-identical results.
func (d *eventDist[K]) kl(o *eventDist[K], partial bool, guard GuardFunc) float64 {
	var kl float64
	for _, k := range d.keys {
		p, q := d.prob(k), o.prob(k)
		if p <= 0 || q <= 0 {
			guard(1, uint64(k), p, q)
			continue
		}
		kl += klTerm(p, q)
	}
	if partial {
		return kl
	}

	var diff float64
	for _, k := range o.keys {
		if _, ok := d.counts[k]; ok {
			continue
		}
		p, q := d.prob(k), o.prob(k)
		diff += d.global.probs[k]
		if p <= 0 || q <= 0 {
			guard(2, uint64(k), p, q)
			continue
		}
		kl += klTerm(p, q)
	}

	// 3. Every globally seen event outside both models has
	// p/q = (u_d/oU_d) / (u_o/oU_o), so the sum collapses to
	// u_d/oU_d * factor * (oU_d - diff).
	if d.overallUnseenMass > 0 && o.overallUnseenMass > 0 {
		factor := (math.Log(d.unseenMass) - math.Log(d.overallUnseenMass)) -
			(math.Log(o.unseenMass) - math.Log(o.overallUnseenMass))
		kl += d.unseenMass / d.overallUnseenMass * factor * (d.overallUnseenMass - diff)
	} else {
		guard(3, 0, d.overallUnseenMass, o.overallUnseenMass)
	}

	// 4. Never-seen events all share the same p and q.
	g := d.global
	if p, q := g.unseenEventProb(d.unseenMass), g.unseenEventProb(o.unseenMass); p > 0 && q > 0 {
		kl += g.unseenTypes * klTerm(p, q)
	} else if g.unseenTypes > 0 {
		guard(4, 0, p, q)
	}
	return kl
}

// cosine computes the cosine similarity between d and o. Unsmoothed
// similarity uses relative frequencies; smoothed uses prob. partial
// restricts both vectors to the events seen in d.
func (d *eventDist[K]) cosine(o *eventDist[K], smoothed, partial bool) float64 {
	weight := func(x *eventDist[K], k K) float64 {
		if smoothed {
			return x.prob(k)
		}
		if x.tokens <= 0 {
			return 0
		}
		return x.counts[k] / x.tokens
	}
	var dot, nd, no float64
	for _, k := range d.keys {
		p, q := weight(d, k), weight(o, k)
		dot += p * q
		nd += p * p
		no += q * q
	}
	if !partial {
		for _, k := range o.keys {
			if _, ok := d.counts[k]; ok {
				continue
			}
			p, q := weight(d, k), weight(o, k)
			dot += p * q
			nd += p * p
			no += q * q
		}
	}
	if nd == 0 || no == 0 {
		return 0
	}
	return dot / (math.Sqrt(nd) * math.Sqrt(no))
}

// logLikelihood is the naive Bayes log probability of the events of doc
// under d, weighted by their counts.
func (d *eventDist[K]) logLikelihood(doc *eventDist[K], guard GuardFunc) float64 {
	var ll float64
	for _, k := range doc.keys {
		p := d.prob(k)
		if p <= 0 {
			guard(1, uint64(k), p, 0)
			continue
		}
		ll += doc.counts[k] * math.Log(p)
	}
	return ll
}
