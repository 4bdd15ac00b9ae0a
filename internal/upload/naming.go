package upload

import (
	"path/filepath"
	"strconv"
	"strings"
)

// DeriveName builds the stored filename for an upload by inserting the Unix
// time in seconds between the stem and the extension of original:
//
//	DeriveName("cat.png", 1000) -> "cat_1000.png"
//	DeriveName("cat", 1000)     -> "cat_1000"
//
// Two uploads with the same original name in the same second produce the
// same name, and the later one replaces the earlier one.
func DeriveName(original string, now int64) string {
	ext := filepath.Ext(original)
	stem := strings.TrimSuffix(original, ext)
	return stem + "_" + strconv.FormatInt(now, 10) + ext
}
