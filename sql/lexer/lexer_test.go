// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenizeReconstructsSource(t *testing.T) {
	src := "SELECT a.name, [b].[id] FROM accounts a -- trailing comment\nWHERE a.amount = @threshold"
	toks := Tokenize(src)

	var sb strings.Builder
	for _, tok := range toks {
		sb.WriteString(tok.Text)
	}
	require.Equal(t, src, sb.String())
	require.Equal(t, EOF, toks[len(toks)-1].Kind)
}

func TestTokenizeClassifiesKeywordsIdentifiersAndLiterals(t *testing.T) {
	toks := Tokenize("SELECT TOP 10 name FROM account WHERE amount > 3.5 AND flag = 'y'")
	var nonTrivia []Token
	for _, tok := range toks {
		if tok.Kind == Whitespace || tok.Kind == EOF {
			continue
		}
		nonTrivia = append(nonTrivia, tok)
	}

	require.Equal(t, Keyword, nonTrivia[0].Kind) // SELECT
	require.Equal(t, "SELECT", nonTrivia[0].Text)
	require.Equal(t, Keyword, nonTrivia[1].Kind) // TOP
	require.Equal(t, Number, nonTrivia[2].Kind)  // 10
	require.Equal(t, Identifier, nonTrivia[3].Kind)

	foundString := false
	foundNumber := false
	for _, tok := range nonTrivia {
		if tok.Kind == String && tok.Text == "'y'" {
			foundString = true
		}
		if tok.Kind == Number && tok.Text == "3.5" {
			foundNumber = true
		}
	}
	require.True(t, foundString)
	require.True(t, foundNumber)
}

func TestTokenizeBracketedAndVariableIdentifiers(t *testing.T) {
	toks := Tokenize("[Production].dbo.[account] @myvar")
	var nonTrivia []Token
	for _, tok := range toks {
		if tok.Kind == Whitespace || tok.Kind == EOF {
			continue
		}
		nonTrivia = append(nonTrivia, tok)
	}
	require.Equal(t, BracketedIdent, nonTrivia[0].Kind)
	require.Equal(t, "[Production]", nonTrivia[0].Text)

	var variableTok *Token
	for i := range nonTrivia {
		if nonTrivia[i].Kind == Variable {
			variableTok = &nonTrivia[i]
		}
	}
	require.NotNil(t, variableTok)
	require.Equal(t, "@myvar", variableTok.Text)
}

func TestTokenizeLineAndBlockComments(t *testing.T) {
	toks := Tokenize("SELECT 1 -- line comment\n/* block\ncomment */ , 2")
	hasLineComment := false
	hasBlockComment := false
	for _, tok := range toks {
		if tok.Kind != Comment {
			continue
		}
		if strings.HasPrefix(tok.Text, "--") {
			hasLineComment = true
		}
		if strings.HasPrefix(tok.Text, "/*") {
			hasBlockComment = true
		}
	}
	require.True(t, hasLineComment)
	require.True(t, hasBlockComment)
}

func TestIsKeywordCaseInsensitiveLookup(t *testing.T) {
	require.True(t, IsKeyword("SELECT"))
	require.True(t, IsKeyword("WHILE"))
	require.False(t, IsKeyword("ACCOUNT"))
}

func TestTokenizeTracksLineAndColumn(t *testing.T) {
	toks := Tokenize("SELECT 1\nFROM account")
	var fromTok *Token
	for i := range toks {
		if toks[i].Text == "FROM" {
			fromTok = &toks[i]
		}
	}
	require.NotNil(t, fromTok)
	require.Equal(t, 2, fromTok.Line)
	require.Equal(t, 1, fromTok.Column)
}
