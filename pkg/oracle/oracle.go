// Package oracle implements the upgrade decision policy: given a namespace's
// known-good set, latest-version set, and the pods' currently annotated
// requests, it decides per (pod, repo) what the next request should be.
//
// An Oracle is built fresh every orchestrator iteration from three plain
// mappings. Besides them it holds a per-repo rollout cap and a per-repo count
// of pods at (or already sent to) latest. GetDataRequest performs no I/O, no
// clock reads, and never mutates its inputs, but it increments that count
// whenever it proposes an upgrade, so repeated calls on one instance can
// return different results; two instances built from the same inputs decide
// identically.
package oracle

import "github.com/dominodatalab/autocrane/pkg/autocranetypes"

// rolloutCap returns the number of pods for a (namespace, repo) pair that are
// permitted to sit at the latest version simultaneously. Fixed at ceil(N/3),
// never less than 1, so a single-pod namespace can always complete a rollout.
func rolloutCap(podCount int) int {
	if podCount <= 0 {
		return 0
	}

	cap := (podCount + 2) / 3
	if cap < 1 {
		cap = 1
	}

	return cap
}

// Oracle evaluates the upgrade decision policy for one iteration.
type Oracle struct {
	knownGood autocranetypes.VersionSet
	latest    autocranetypes.VersionSet
	requests  []autocranetypes.PodDataRequestInfo

	// upgraded counts, per repo, pods already observed at latest plus
	// upgrades already emitted earlier in this pass.
	upgraded map[string]int
	cap      map[string]int
}

// New builds an Oracle from the inputs described in spec §4.2. requests
// order determines the order in which the rollout gate is consulted.
func New(knownGood, latest autocranetypes.VersionSet, requests []autocranetypes.PodDataRequestInfo) *Oracle {
	o := &Oracle{
		knownGood: knownGood,
		latest:    latest,
		requests:  requests,
		upgraded:  map[string]int{},
		cap:       map[string]int{},
	}

	repoPodCount := map[string]int{}
	for _, pod := range requests {
		for _, repo := range pod.DataSources {
			repoPodCount[repo]++
		}
	}
	for repo, count := range repoPodCount {
		o.cap[repo] = rolloutCap(count)
	}

	for _, pod := range requests {
		for _, repo := range pod.DataSources {
			lt, ok := latest[repo]
			if !ok {
				continue
			}

			if details, okDecode := pod.Requests[repo].Decode(); okDecode && details.Hash == lt {
				o.upgraded[repo]++
			}
		}
	}

	return o
}

// GetDataRequest returns the next request AutoCrane should direct the pod to
// fetch for repo, or (zero, false) if there is no change to make.
func (o *Oracle) GetDataRequest(pod autocranetypes.PodDataRequestInfo, repo string) (autocranetypes.DataDownloadRequestDetails, bool) {
	kg, kgOK := o.knownGood[repo]
	lt, ltOK := o.latest[repo]

	if !kgOK && !ltOK {
		return autocranetypes.DataDownloadRequestDetails{}, false
	}

	cur, curOK := pod.Requests[repo].Decode()

	switch {
	case !curOK:
		target, ok := firstKnown(kg, kgOK, lt, ltOK)
		if !ok {
			return autocranetypes.DataDownloadRequestDetails{}, false
		}
		return autocranetypes.DataDownloadRequestDetails{Hash: target}, true

	case ltOK && cur.Hash == lt:
		return autocranetypes.DataDownloadRequestDetails{}, false

	case kgOK && ltOK && cur.Hash == kg && lt != kg:
		if !o.permitUpgrade(repo) {
			return autocranetypes.DataDownloadRequestDetails{}, false
		}
		o.upgraded[repo]++
		return autocranetypes.DataDownloadRequestDetails{Hash: lt}, true

	case kgOK && cur.Hash != kg && (!ltOK || cur.Hash != lt):
		return autocranetypes.DataDownloadRequestDetails{Hash: kg}, true

	default:
		return autocranetypes.DataDownloadRequestDetails{}, false
	}
}

// firstKnown prefers kg over lt when both are present, per rule 2 of the
// decision policy.
func firstKnown(kg string, kgOK bool, lt string, ltOK bool) (string, bool) {
	if kgOK {
		return kg, true
	}
	if ltOK {
		return lt, true
	}
	return "", false
}

func (o *Oracle) permitUpgrade(repo string) bool {
	return o.upgraded[repo] < o.cap[repo]
}
