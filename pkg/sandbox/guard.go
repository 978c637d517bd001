package sandbox

import (
	"fmt"
	"strings"
)

type ruleKind int

const (
	// matchPhrase matches a consecutive run of words anywhere.
	matchPhrase ruleKind = iota
	// matchCommand matches the leading words of a statement only.
	matchCommand
	// matchCall matches a single word followed by an opening parenthesis.
	matchCall
)

type rule struct {
	kind   ruleKind
	words  []string
	reason string
}

func phrase(reason string, words ...string) rule {
	return rule{kind: matchPhrase, words: words, reason: reason}
}

func command(reason string, words ...string) rule {
	return rule{kind: matchCommand, words: words, reason: reason}
}

func call(reason, name string) rule {
	return rule{kind: matchCall, words: []string{name}, reason: reason}
}

func (r rule) matches(stmt Statement) bool {
	switch r.kind {
	case matchCommand:
		return hasPrefix(stmt.words, r.words)
	case matchCall:
		for i, w := range stmt.words {
			if w == r.words[0] && stmt.next(i) == '(' {
				return true
			}
		}
		return false
	default:
		return containsRun(stmt.words, r.words)
	}
}

// denylists hold the operations that would let a script escape its instance
// or tamper with the engine. They apply to untrusted scripts only. Commands
// match as leading keywords and functions only as calls, so the same words
// stay usable as table and column names.
var denylists = map[Dialect][]rule{
	DialectSQLite: {
		command("attaching databases is not allowed", "ATTACH"),
		command("detaching databases is not allowed", "DETACH"),
		command("VACUUM is not allowed", "VACUUM"),
		call("loading extensions is not allowed", "LOAD_EXTENSION"),
		call("file access is not allowed", "READFILE"),
		call("file access is not allowed", "WRITEFILE"),
		call("file access is not allowed", "EDIT"),
		call("custom tokenizers are not allowed", "FTS3_TOKENIZER"),
	},
	DialectPostgres: {
		command("COPY is not allowed", "COPY"),
		command("LOAD is not allowed", "LOAD"),
		command("anonymous code blocks are not allowed", "DO"),
		call("large object access is not allowed", "LO_IMPORT"),
		call("large object access is not allowed", "LO_EXPORT"),
		call("file access is not allowed", "PG_READ_FILE"),
		call("file access is not allowed", "PG_READ_BINARY_FILE"),
		call("file access is not allowed", "PG_LS_DIR"),
		call("file access is not allowed", "PG_STAT_FILE"),
		call("remote connections are not allowed", "DBLINK"),
		call("remote connections are not allowed", "DBLINK_EXEC"),
		call("remote connections are not allowed", "DBLINK_CONNECT"),
		call("backend control is not allowed", "PG_TERMINATE_BACKEND"),
		call("backend control is not allowed", "PG_CANCEL_BACKEND"),
		call("changing settings is not allowed", "SET_CONFIG"),
		phrase("extensions are not allowed", "CREATE", "EXTENSION"),
		phrase("languages are not allowed", "CREATE", "LANGUAGE"),
		phrase("languages are not allowed", "CREATE", "OR", "REPLACE", "LANGUAGE"),
		phrase("languages are not allowed", "CREATE", "TRUSTED", "LANGUAGE"),
		phrase("untrusted languages are not allowed", "LANGUAGE", "C"),
		phrase("untrusted languages are not allowed", "LANGUAGE", "INTERNAL"),
		phrase("untrusted languages are not allowed", "LANGUAGE", "PLPYTHON3U"),
		phrase("untrusted languages are not allowed", "LANGUAGE", "PLPERLU"),
		phrase("untrusted languages are not allowed", "LANGUAGE", "PLTCLU"),
		command("server configuration is not allowed", "ALTER", "SYSTEM"),
		command("database management is not allowed", "CREATE", "DATABASE"),
		command("database management is not allowed", "DROP", "DATABASE"),
		command("database management is not allowed", "ALTER", "DATABASE"),
		command("tablespaces are not allowed", "CREATE", "TABLESPACE"),
		command("role management is not allowed", "CREATE", "ROLE"),
		command("role management is not allowed", "CREATE", "USER"),
		command("role management is not allowed", "ALTER", "ROLE"),
		command("role management is not allowed", "ALTER", "USER"),
		command("role management is not allowed", "DROP", "ROLE"),
		command("role management is not allowed", "DROP", "USER"),
		command("switching roles is not allowed", "SET", "ROLE"),
		command("switching roles is not allowed", "SET", "SESSION", "AUTHORIZATION"),
		command("switching roles is not allowed", "RESET", "ROLE"),
		command("foreign servers are not allowed", "CREATE", "SERVER"),
		command("subscriptions are not allowed", "CREATE", "SUBSCRIPTION"),
		command("changing the statement timeout is not allowed", "SET", "STATEMENT_TIMEOUT"),
		command("changing the statement timeout is not allowed", "SET", "SESSION", "STATEMENT_TIMEOUT"),
		command("changing the statement timeout is not allowed", "SET", "LOCAL", "STATEMENT_TIMEOUT"),
		command("changing the statement timeout is not allowed", "RESET", "STATEMENT_TIMEOUT"),
		command("resetting the session is not allowed", "RESET", "ALL"),
	},
	DialectMySQL: {
		command("loading files is not allowed", "LOAD"),
		call("file access is not allowed", "LOAD_FILE"),
		phrase("writing files is not allowed", "INTO", "OUTFILE"),
		phrase("writing files is not allowed", "INTO", "DUMPFILE"),
		command("switching databases is not allowed", "USE"),
		command("database management is not allowed", "CREATE", "DATABASE"),
		command("database management is not allowed", "CREATE", "SCHEMA"),
		command("database management is not allowed", "DROP", "DATABASE"),
		command("database management is not allowed", "DROP", "SCHEMA"),
		command("database management is not allowed", "ALTER", "DATABASE"),
		command("privilege management is not allowed", "GRANT"),
		command("privilege management is not allowed", "REVOKE"),
		command("user management is not allowed", "CREATE", "USER"),
		command("user management is not allowed", "DROP", "USER"),
		command("user management is not allowed", "ALTER", "USER"),
		command("server configuration is not allowed", "SET", "GLOBAL"),
		command("server configuration is not allowed", "SET", "PERSIST"),
		command("server configuration is not allowed", "SET", "PERSIST_ONLY"),
		phrase("server configuration is not allowed", "@@GLOBAL"),
		command("changing the statement timeout is not allowed", "SET", "MAX_EXECUTION_TIME"),
		command("changing the statement timeout is not allowed", "SET", "SESSION", "MAX_EXECUTION_TIME"),
		phrase("changing the statement timeout is not allowed", "@@MAX_EXECUTION_TIME"),
		phrase("changing the statement timeout is not allowed", "@@SESSION", "MAX_EXECUTION_TIME"),
		command("plugins are not allowed", "INSTALL"),
		command("plugins are not allowed", "UNINSTALL"),
		command("server control is not allowed", "SHUTDOWN"),
		command("server control is not allowed", "KILL"),
		command("server control is not allowed", "FLUSH"),
		call("sleeping is not allowed", "SLEEP"),
		call("sleeping is not allowed", "BENCHMARK"),
	},
}

// sqlitePragmas lists the introspection pragmas students may read.
var sqlitePragmas = map[string]struct{}{
	"TABLE_INFO":       {},
	"TABLE_XINFO":      {},
	"TABLE_LIST":       {},
	"INDEX_LIST":       {},
	"INDEX_INFO":       {},
	"FOREIGN_KEY_LIST": {},
}

// Guard rejects statements that use a denied operation of the dialect or one
// of the task restrictions. Restrictions are keywords or keyword phrases such
// as "JOIN" or "ORDER BY".
func Guard(dialect Dialect, stmts []Statement, restrictions []string) error {
	taskRules := make([]rule, 0, len(restrictions))
	for _, r := range restrictions {
		words := strings.Fields(strings.ToUpper(r))
		if len(words) == 0 {
			continue
		}
		taskRules = append(taskRules, rule{
			words:  words,
			reason: fmt.Sprintf("%s is not allowed in this task", strings.Join(words, " ")),
		})
	}

	for _, stmt := range stmts {
		if dialect == DialectSQLite {
			if err := checkPragma(stmt); err != nil {
				return err
			}
		}
		for _, r := range denylists[dialect] {
			if r.matches(stmt) {
				return newError(ErrorKindForbidden, stmt.Index, r.reason, nil)
			}
		}
		for _, r := range taskRules {
			if r.matches(stmt) {
				return newError(ErrorKindForbidden, stmt.Index, r.reason, nil)
			}
		}
	}
	return nil
}

// checkPragma lets listed introspection pragmas through in their reading
// forms, PRAGMA name and PRAGMA name(arg). Assignments are denied.
func checkPragma(stmt Statement) error {
	if stmt.Keyword() != "PRAGMA" {
		return nil
	}
	if len(stmt.words) > 1 {
		if _, ok := sqlitePragmas[stmt.words[1]]; ok && stmt.next(1) != '=' {
			return nil
		}
	}
	return newError(ErrorKindForbidden, stmt.Index, "PRAGMA is not allowed", nil)
}

func hasPrefix(words, prefix []string) bool {
	if len(prefix) == 0 || len(prefix) > len(words) {
		return false
	}
	for i, w := range prefix {
		if words[i] != w {
			return false
		}
	}
	return true
}

func containsRun(words, run []string) bool {
	if len(run) == 0 || len(run) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(run) <= len(words); i++ {
		for j, w := range run {
			if words[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}
