// Package command parses reviewer comments into intended Model mutations.
// The parser is pure: it never touches the Model or performs I/O. The
// supervisor applies the mutations it returns (§4.4, §9).
package command

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/homu-project/homu/internal/model"
)

// Kind identifies which mutation a parsed command intends.
type Kind int

const (
	KindApprove Kind = iota
	KindUnapprove
	KindSetPriority
	KindTrySet
	KindTryClear
	KindRollupSet
	KindRollupClear
	KindRetry
	KindForce
	KindClean
	KindDelegateSet
	KindDelegateClear
	KindDelegateAuthor
)

// Mutation is one intended change to a pull request's scheduling fields,
// produced by parsing a single comment. The supervisor applies it against
// the Model; Mutation itself never mutates anything.
type Mutation struct {
	Kind Kind

	// Approver is set for KindApprove: the login who should be recorded
	// as having approved (the commenter for r+, the named user for r=USER).
	Approver string

	// Priority is set for KindSetPriority.
	Priority int

	// DelegateUser is set for KindDelegateSet: the login being granted
	// approval authority.
	DelegateUser string
}

// Reject describes why a comment produced no mutation. A single reply
// comment is posted for it (§4.4, §7 BadCommand); no state changes.
type Reject struct {
	Reason string
}

var shaRe = regexp.MustCompile(`^[0-9a-f]+$`)

// shaMatches reports whether short is a case-sensitive prefix of full,
// requiring at least 4 hex characters, matching the original bot's
// sha_cmp behaviour.
func shaMatches(short, full string) bool {
	if len(short) < 4 || len(short) > len(full) {
		return false
	}
	return short == full[:len(short)]
}

// Parse tokenizes one comment body for words following triggerToken
// (e.g. "@bot") and translates recognized verbs into Mutations. commenter
// is the GitHub login who posted the comment; headSHA is the pull
// request's current head SHA, used to validate r+/r=USER SHA arguments.
//
// Authorization (which verbs commenter is allowed to issue) is not
// enforced here — the parser has no access to per-repository reviewer
// configuration. Callers filter the returned Mutations through
// Authorize before applying anything that changes approval, priority,
// or delegation (§4.4).
func Parse(body, commenter, triggerToken, headSHA string) ([]Mutation, []Reject) {
	words := tokenize(body, triggerToken)

	var muts []Mutation
	var rejects []Reject

	for i := 0; i < len(words); i++ {
		word := words[i]

		switch {
		case word == "r+" || strings.HasPrefix(word, "r="):
			approver := commenter
			if strings.HasPrefix(word, "r=") {
				approver = strings.TrimPrefix(word, "r=")
			}

			var curSHA string
			if i+1 < len(words) && shaRe.MatchString(strings.ToLower(words[i+1])) {
				curSHA = words[i+1]
				i++
			}

			if curSHA != "" && !shaMatches(strings.ToLower(curSHA), strings.ToLower(headSHA)) {
				rejects = append(rejects, Reject{Reason: "`" + curSHA + "` is not the current head SHA"})
				continue
			}

			muts = append(muts, Mutation{Kind: KindApprove, Approver: approver})

		case word == "r-":
			muts = append(muts, Mutation{Kind: KindUnapprove})

		case strings.HasPrefix(word, "p="):
			n, err := strconv.Atoi(strings.TrimPrefix(word, "p="))
			if err != nil {
				rejects = append(rejects, Reject{Reason: "`" + word + "` is not a valid priority"})
				continue
			}
			muts = append(muts, Mutation{Kind: KindSetPriority, Priority: n})

		case word == "try":
			muts = append(muts, Mutation{Kind: KindTrySet})
		case word == "try-":
			muts = append(muts, Mutation{Kind: KindTryClear})

		case word == "rollup":
			muts = append(muts, Mutation{Kind: KindRollupSet})
		case word == "rollup-":
			muts = append(muts, Mutation{Kind: KindRollupClear})

		case word == "retry":
			muts = append(muts, Mutation{Kind: KindRetry})

		case word == "force":
			muts = append(muts, Mutation{Kind: KindForce})

		case word == "clean":
			muts = append(muts, Mutation{Kind: KindClean})

		case strings.HasPrefix(word, "delegate="):
			user := strings.TrimPrefix(word, "delegate=")
			if user == "" {
				rejects = append(rejects, Reject{Reason: "`delegate=` requires a username"})
				continue
			}
			muts = append(muts, Mutation{Kind: KindDelegateSet, DelegateUser: user})

		case word == "delegate-":
			muts = append(muts, Mutation{Kind: KindDelegateClear})

		case word == "delegate+":
			muts = append(muts, Mutation{Kind: KindDelegateAuthor})

		default:
			// Unknown verbs are silently ignored (§4.4).
		}
	}

	return muts, rejects
}

// tokenize extracts the whitespace-separated words of every line in body
// that mentions the trigger token, following the original bot's
// line-then-word scan.
func tokenize(body, triggerToken string) []string {
	var words []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.Contains(line, triggerToken) {
			continue
		}
		words = append(words, strings.Fields(line)...)
	}
	return words
}

// Authorize filters muts, keeping only the ones commenter is permitted to
// issue against cfg. Mutations that change approval, priority, rollup,
// try, or delegation require commenter to be a reviewer, an admin, or a
// current delegate (cfg.Delegates). force, delegate= and delegate-
// require admin; delegate+ requires a reviewer or an admin.
func Authorize(muts []Mutation, cfg *model.RepoConfig, commenter string) ([]Mutation, []Reject) {
	var allowed []Mutation
	var rejects []Reject

	for _, m := range muts {
		switch m.Kind {
		case KindForce, KindDelegateSet, KindDelegateClear:
			if cfg.IsAdmin(commenter) {
				allowed = append(allowed, m)
			} else {
				rejects = append(rejects, Reject{Reason: "only an administrator may do that"})
			}
		case KindDelegateAuthor:
			if cfg.IsReviewer(commenter) || cfg.IsAdmin(commenter) {
				allowed = append(allowed, m)
			} else {
				rejects = append(rejects, Reject{Reason: "only a reviewer may delegate"})
			}
		default:
			if cfg.CanApprove(commenter) {
				allowed = append(allowed, m)
			} else {
				rejects = append(rejects, Reject{Reason: "commenter is not authorized to issue that command"})
			}
		}
	}

	return allowed, rejects
}
