package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/pdf-toolkit/internal/files"
)

// writeZip は完了済みジョブの成果物をZIPへ書き出します。エントリ名は
// 元のファイル名を基にし、重複時は連番を付けます。
func writeZip(zipPath string, targets []files.File) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	writer := zip.NewWriter(out)
	defer func() {
		if cerr := writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	used := make(map[string]int)
	for _, f := range targets {
		name := entryName(f, used)
		entry, werr := writer.Create(name)
		if werr != nil {
			return werr
		}
		src, oerr := os.Open(f.ArtifactPath)
		if oerr != nil {
			return oerr
		}
		_, cerr := io.Copy(entry, src)
		src.Close()
		if cerr != nil {
			return cerr
		}
	}
	return nil
}

func entryName(f files.File, used map[string]int) string {
	name := filepath.Base(f.OriginalName)
	ext := filepath.Ext(f.ArtifactPath)
	if ext != "" && !strings.EqualFold(filepath.Ext(name), ext) {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ext
	}
	used[name]++
	if used[name] > 1 {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		name = fmt.Sprintf("%s-%d%s", base, used[name], filepath.Ext(name))
	}
	return name
}
