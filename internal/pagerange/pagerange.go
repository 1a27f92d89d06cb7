// Package pagerange はページ範囲式の解析機能を提供します。
package pagerange

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidRange は有効なページが1つも得られなかった場合に返されます。
var ErrInvalidRange = errors.New("有効なページ範囲が指定されていません")

// Parse はカンマ区切りのページ範囲式を0始まりのページ番号リストへ変換します。
// 各セグメントは1始まりの単一ページ番号または "a-b" の閉区間です。
// 数値でないトークンや範囲外のページは黙って捨てられます。
// a > b のセグメントはページを追加しません（エラーにもしません）。
// 結果は重複排除のうえ昇順で返します。有効なページが無い場合は ErrInvalidRange です。
func Parse(expr string, pageCount int) ([]int, error) {
	selected := make(map[int]struct{})

	for _, seg := range strings.Split(expr, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}

		if strings.Contains(seg, "-") {
			parts := strings.SplitN(seg, "-", 2)
			start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil {
				continue
			}
			for p := start; p <= end; p++ {
				if p >= 1 && p <= pageCount {
					selected[p-1] = struct{}{}
				}
			}
			continue
		}

		page, err := strconv.Atoi(seg)
		if err != nil {
			continue
		}
		if page >= 1 && page <= pageCount {
			selected[page-1] = struct{}{}
		}
	}

	if len(selected) == 0 {
		return nil, ErrInvalidRange
	}

	pages := make([]int, 0, len(selected))
	for p := range selected {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}
