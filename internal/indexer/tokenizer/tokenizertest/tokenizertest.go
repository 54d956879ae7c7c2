// Package tokenizertest builds tokenizers backed by a small throwaway sego
// dictionary for use in tests.
package tokenizertest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/novelnest/bookmatch/internal/indexer/tokenizer"
)

// Words is the vocabulary of the test dictionary. Every entry is two runes
// and no two entries overlap, so segmentation of text built from them is
// unambiguous.
var Words = []string{
	"古言", "权谋", "宫廷", "江湖", "武侠", "修仙", "科幻", "星河",
	"长安", "少年", "复仇", "爱情", "皇帝", "侠客", "宇宙", "未来",
	"都市", "职场", "悬疑", "推理", "侦探", "案件", "家族", "故事",
	"朝堂", "女主", "男主", "天下", "江山", "风月", "明月", "归途",
	"穿越", "重生", "机甲", "末世", "校园", "青春", "历史", "战争",
}

// WriteDictionary writes a sego dictionary containing Words plus extra and
// returns its path.
func WriteDictionary(tb testing.TB, extra ...string) string {
	tb.Helper()
	var b strings.Builder
	for _, w := range append(append([]string{}, Words...), extra...) {
		fmt.Fprintf(&b, "%s 100 n\n", w)
	}
	path := filepath.Join(tb.TempDir(), "dictionary.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		tb.Fatalf("writing test dictionary: %v", err)
	}
	return path
}

// New returns a Tokenizer over the test dictionary with default options.
func New(tb testing.TB, extra ...string) *tokenizer.Tokenizer {
	tb.Helper()
	tok, err := tokenizer.New(tokenizer.Options{DictionaryPath: WriteDictionary(tb, extra...)})
	if err != nil {
		tb.Fatalf("creating tokenizer: %v", err)
	}
	return tok
}
