package pipeline

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/yourusername/pdf-toolkit/internal/config"
	"github.com/yourusername/pdf-toolkit/internal/files"
	"github.com/yourusername/pdf-toolkit/internal/genimage"
	"github.com/yourusername/pdf-toolkit/internal/storage"
	"github.com/yourusername/pdf-toolkit/internal/users"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00}
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

type stubPDF struct {
	pageCount   int
	appended    []string
	imported    [][]string
	outputBytes []byte
	failOn      string
}

func (s *stubPDF) writeOut(outPath string) error {
	data := s.outputBytes
	if data == nil {
		data = []byte("%PDF-1.4 stub")
	}
	return os.WriteFile(outPath, data, 0o640)
}

func (s *stubPDF) PageCount(path string) (int, error) {
	if s.pageCount == 0 {
		return 5, nil
	}
	return s.pageCount, nil
}

func (s *stubPDF) CollectPages(inPath, outPath string, pages []int) error {
	return s.writeOut(outPath)
}

func (s *stubPDF) AppendTo(outPath, inPath string) error {
	if s.failOn != "" && filepath.Base(inPath) == s.failOn {
		return os.ErrInvalid
	}
	s.appended = append(s.appended, filepath.Base(inPath))
	return s.writeOut(outPath)
}

func (s *stubPDF) ImagesToPDF(imagePaths []string, outPath string) error {
	names := make([]string, len(imagePaths))
	for i, p := range imagePaths {
		names[i] = filepath.Base(p)
	}
	s.imported = append(s.imported, names)
	return s.writeOut(outPath)
}

func (s *stubPDF) Optimize(inPath, outPath string) error {
	if s.failOn != "" && filepath.Base(inPath) == s.failOn {
		return os.ErrInvalid
	}
	return s.writeOut(outPath)
}

type stubRasterDoc struct {
	pages int
	jpeg  []byte
}

func (d *stubRasterDoc) PageCount() int { return d.pages }
func (d *stubRasterDoc) RenderJPEG(page int, dpi float64, quality int) ([]byte, error) {
	if d.jpeg != nil {
		return d.jpeg, nil
	}
	return jpegMagic, nil
}
func (d *stubRasterDoc) Close() error { return nil }

type stubRaster struct {
	doc     *stubRasterDoc
	openErr error
}

func (r *stubRaster) Open(path string) (RasterDocument, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	if r.doc == nil {
		return &stubRasterDoc{pages: 2}, nil
	}
	return r.doc, nil
}

type stubGen struct {
	readyErr error
	genErr   error
	output   []byte
	prompts  []string
	inputs   [][]byte
}

func (g *stubGen) Ready() error { return g.readyErr }
func (g *stubGen) Generate(ctx context.Context, imageData []byte, mimeType, prompt string) (*genimage.Image, error) {
	g.prompts = append(g.prompts, prompt)
	g.inputs = append(g.inputs, append([]byte(nil), imageData...))
	if g.genErr != nil {
		return nil, g.genErr
	}
	output := g.output
	if output == nil {
		output = pngMagic
	}
	return &genimage.Image{Data: output, MimeType: "image/png"}, nil
}

type testEnv struct {
	svc    *Service
	pdf    *stubPDF
	raster *stubRaster
	gen    *stubGen
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	cfg := &config.Config{MaxFileSize: 1 << 20, MaxPages: 100}
	pdf := &stubPDF{}
	ras := &stubRaster{}
	gen := &stubGen{}
	svc := NewService(cfg, store, pdf, ras, gen, log.New(os.Stderr, "", 0))
	return &testEnv{svc: svc, pdf: pdf, raster: ras, gen: gen}
}

// addFile は実際のアップロードを経ずに待機ジョブを登録します。
func (e *testEnv) addFile(t *testing.T, name, mime string, content []byte) files.File {
	t.Helper()
	ws, err := e.svc.store.Create()
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	srcPath := filepath.Join(ws.InDir, name)
	if err := os.WriteFile(srcPath, content, 0o640); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	record := files.File{
		ID:           ws.JobID,
		OriginalName: name,
		MimeType:     mime,
		SourcePath:   srcPath,
		OriginalSize: int64(len(content)),
		Status:       files.StatusWaiting,
	}
	e.svc.reg.Add(record)
	stored, _ := e.svc.reg.Get(ws.JobID)
	return stored
}

func fullPerms() users.Permissions { return users.FullPermissions() }

func TestCompressKeepsOriginalWhenNotSmaller(t *testing.T) {
	env := newTestEnv(t)
	original := []byte("%PDF-1.4 tiny original")
	f := env.addFile(t, "small.pdf", "application/pdf", original)
	env.pdf.outputBytes = bytes.Repeat([]byte("x"), 4096)

	state, err := env.svc.RunSingle(context.Background(), f.ID, OperationCompress, Params{Level: CompressionRecommended}, nil)
	if err != nil {
		t.Fatalf("RunSingle failed: %v", err)
	}
	if state.Status != files.StatusDone {
		t.Fatalf("status = %q, want done", state.Status)
	}
	if state.DerivedSize != f.OriginalSize {
		t.Errorf("derivedSize = %d, want original %d", state.DerivedSize, f.OriginalSize)
	}
	artifact, err := os.ReadFile(state.ArtifactPath)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if !bytes.Equal(artifact, original) {
		t.Error("artifact should carry the original bytes when compression is not smaller")
	}
}

func TestCompressLightUsesLosslessOptimize(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "doc.pdf", "application/pdf", bytes.Repeat([]byte("y"), 2048))
	env.pdf.outputBytes = []byte("%PDF small")

	state, err := env.svc.RunSingle(context.Background(), f.ID, OperationCompress, Params{Level: CompressionLight}, nil)
	if err != nil {
		t.Fatalf("RunSingle failed: %v", err)
	}
	if state.DerivedSize >= f.OriginalSize {
		t.Errorf("derivedSize = %d, want smaller than %d", state.DerivedSize, f.OriginalSize)
	}
	if len(env.pdf.imported) != 0 {
		t.Error("light compression must not rasterize")
	}
}

func TestCompressFailureRecordsErrorState(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "bad.pdf", "application/pdf", []byte("%PDF broken"))
	env.raster.openErr = os.ErrInvalid

	state, err := env.svc.RunSingle(context.Background(), f.ID, OperationCompress, Params{Level: CompressionHigh}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if state.Status != files.StatusError {
		t.Fatalf("status = %q, want error", state.Status)
	}
	if state.ErrorCode != CodeEngineFailure {
		t.Errorf("errorCode = %q, want %q", state.ErrorCode, CodeEngineFailure)
	}
	if state.Progress != 0 {
		t.Errorf("progress = %d, want 0 after failure", state.Progress)
	}
	if state.ArtifactPath != "" || state.DerivedSize != 0 {
		t.Error("failed job must not carry artifact fields")
	}
}

func TestRunSingleRemovedDuringRun(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "doc.pdf", "application/pdf", bytes.Repeat([]byte("z"), 512))
	env.pdf.outputBytes = []byte("tiny")

	started := make(chan struct{})
	release := make(chan struct{})
	env.raster.doc = &stubRasterDoc{pages: 1}
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = env.svc.RunSingle(context.Background(), f.ID, OperationCompress, Params{}, func(stage string, percent int) {
			if stage == "assemble" {
				close(started)
				<-release
			}
		})
	}()

	<-started
	if !env.svc.RemoveFile(f.ID) {
		t.Fatal("RemoveFile should succeed while the job is running")
	}
	close(release)
	<-done

	if _, ok := env.svc.reg.Get(f.ID); ok {
		t.Error("removed job must not be resurrected by a finishing run")
	}
}

func TestExtractUsesStoredSelection(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "doc.pdf", "application/pdf", []byte("%PDF input"))
	env.pdf.pageCount = 10
	if err := env.svc.SetPageSelection(f.ID, "2-3,5"); err != nil {
		t.Fatalf("SetPageSelection failed: %v", err)
	}

	state, err := env.svc.RunSingle(context.Background(), f.ID, OperationExtract, Params{}, nil)
	if err != nil {
		t.Fatalf("RunSingle failed: %v", err)
	}
	if state.Status != files.StatusDone {
		t.Fatalf("status = %q, want done", state.Status)
	}
}

func TestExtractInvalidRange(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "doc.pdf", "application/pdf", []byte("%PDF input"))
	env.pdf.pageCount = 5
	_ = env.svc.SetPageSelection(f.ID, "99")

	state, err := env.svc.RunSingle(context.Background(), f.ID, OperationExtract, Params{}, nil)
	if err == nil {
		t.Fatal("expected an error for out-of-domain range")
	}
	if state.ErrorCode != CodeInvalidRange {
		t.Errorf("errorCode = %q, want %q", state.ErrorCode, CodeInvalidRange)
	}
}

func TestMergeRequiresTwoInputs(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "only.pdf", "application/pdf", []byte("%PDF one"))

	before := len(env.svc.reg.List())
	_, err := env.svc.RunBatch(context.Background(), fullPerms(), []string{f.ID}, OperationMerge, Params{})
	var apiErr *Error
	if !asAPIError(err, &apiErr) || apiErr.Code != CodeInsufficientInputs {
		t.Fatalf("error = %v, want %s", err, CodeInsufficientInputs)
	}

	state, _ := env.svc.reg.Get(f.ID)
	if state.Status != files.StatusWaiting {
		t.Errorf("status = %q, want waiting (no mutation on rejected merge)", state.Status)
	}
	if got := len(env.svc.reg.List()); got != before {
		t.Errorf("job count = %d, want unchanged %d", got, before)
	}
}

func TestMergeFoldsInDisplayOrder(t *testing.T) {
	env := newTestEnv(t)
	a := env.addFile(t, "a.pdf", "application/pdf", []byte("%PDF a"))
	b := env.addFile(t, "b.pdf", "application/pdf", []byte("%PDF b"))
	c := env.addFile(t, "c.pdf", "application/pdf", []byte("%PDF c"))

	// 選択順ではなく一覧の表示順で畳み込まれる
	result, err := env.svc.RunBatch(context.Background(), fullPerms(), []string{c.ID, a.ID, b.ID}, OperationMerge, Params{})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	want := []string{"a.pdf", "b.pdf", "c.pdf"}
	if len(env.pdf.appended) != len(want) {
		t.Fatalf("appended = %v, want %v", env.pdf.appended, want)
	}
	for i, name := range want {
		if env.pdf.appended[i] != name {
			t.Errorf("appended[%d] = %q, want %q", i, env.pdf.appended[i], name)
		}
	}

	for _, id := range []string{a.ID, b.ID, c.ID} {
		state, _ := env.svc.reg.Get(id)
		if state.Status != files.StatusDone {
			t.Errorf("source %s status = %q, want done", id, state.Status)
		}
	}

	if result.NewJob == nil {
		t.Fatal("merge must produce a new job")
	}
	if result.NewJob.Status != files.StatusDone {
		t.Errorf("merged job status = %q, want done", result.NewJob.Status)
	}
	if _, ok := env.svc.reg.Get(result.NewJob.ID); !ok {
		t.Error("merged job must re-enter the registry")
	}
}

func TestConvertSkipsUnsupportedFormats(t *testing.T) {
	env := newTestEnv(t)
	jpg := env.addFile(t, "scan1.jpg", "image/jpeg", jpegMagic)
	pdf := env.addFile(t, "doc.pdf", "application/pdf", []byte("%PDF doc"))
	png := env.addFile(t, "scan2.png", "image/png", pngMagic)

	result, err := env.svc.RunBatch(context.Background(), fullPerms(),
		[]string{jpg.ID, pdf.ID, png.ID}, OperationConvert, Params{})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	skipped, _ := env.svc.reg.Get(pdf.ID)
	if skipped.Status != files.StatusWaiting {
		t.Errorf("unsupported input status = %q, want waiting", skipped.Status)
	}
	for _, id := range []string{jpg.ID, png.ID} {
		state, _ := env.svc.reg.Get(id)
		if state.Status != files.StatusDone {
			t.Errorf("image %s status = %q, want done", id, state.Status)
		}
	}
	if result.NewJob == nil || result.NewJob.PageCount != 2 {
		t.Fatalf("converted job = %+v, want 2 pages", result.NewJob)
	}
}

func TestEnhanceChainsFromLatestArtifact(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "photo.jpg", "image/jpeg", jpegMagic)

	first, err := env.svc.RunSingle(context.Background(), f.ID, OperationEnhance, Params{}, nil)
	if err != nil {
		t.Fatalf("initial enhance failed: %v", err)
	}
	if len(first.EnhancementTrail) != 1 {
		t.Fatalf("trail length = %d, want 1", len(first.EnhancementTrail))
	}
	if first.EnhancementTrail[0].Prompt != initialEnhanceLabel {
		t.Errorf("first prompt label = %q, want %q", first.EnhancementTrail[0].Prompt, initialEnhanceLabel)
	}
	if env.gen.prompts[0] != defaultEnhancePrompt {
		t.Errorf("first prompt sent = %q, want default prompt", env.gen.prompts[0])
	}
	if !bytes.Equal(env.gen.inputs[0], jpegMagic) {
		t.Error("initial enhance must read the original upload")
	}

	second, err := env.svc.RunSingle(context.Background(), f.ID, OperationEnhance, Params{Prompt: "もっと明るく"}, nil)
	if err != nil {
		t.Fatalf("chained enhance failed: %v", err)
	}
	if len(second.EnhancementTrail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(second.EnhancementTrail))
	}
	if !bytes.Equal(env.gen.inputs[1], pngMagic) {
		t.Error("chained enhance must read the previous artifact, not the original")
	}
	if second.EnhancementTrail[1].Prompt != "もっと明るく" {
		t.Errorf("second prompt label = %q", second.EnhancementTrail[1].Prompt)
	}
	latest := second.LatestArtifact()
	if latest == nil || second.ArtifactPath != latest.ArtifactPath {
		t.Error("job artifact must point at the newest enhancement")
	}
}

func TestEnhanceConfigMissingLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.gen.readyErr = genimage.ErrNotConfigured
	f := env.addFile(t, "photo.jpg", "image/jpeg", jpegMagic)

	state, err := env.svc.RunSingle(context.Background(), f.ID, OperationEnhance, Params{}, nil)
	var apiErr *Error
	if !asAPIError(err, &apiErr) || apiErr.Code != CodeConfigMissing {
		t.Fatalf("error = %v, want %s", err, CodeConfigMissing)
	}
	if state.Status != files.StatusWaiting || state.Progress != 0 {
		t.Errorf("state = %q/%d, want untouched waiting/0", state.Status, state.Progress)
	}
	if len(env.gen.prompts) != 0 {
		t.Error("engine must not be called when configuration is missing")
	}
}

func TestEnhanceBlockedMapsToGenerationBlocked(t *testing.T) {
	env := newTestEnv(t)
	env.gen.genErr = &genimage.BlockedError{Reason: "SAFETY"}
	f := env.addFile(t, "photo.jpg", "image/jpeg", jpegMagic)

	state, err := env.svc.RunSingle(context.Background(), f.ID, OperationEnhance, Params{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if state.ErrorCode != CodeGenerationBlocked {
		t.Errorf("errorCode = %q, want %q", state.ErrorCode, CodeGenerationBlocked)
	}
	if len(state.EnhancementTrail) != 0 {
		t.Error("failed enhancement must not extend the trail")
	}
}

func TestBatchPermissionDeniedIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "doc.pdf", "application/pdf", []byte("%PDF doc"))

	perms := users.FullPermissions()
	perms.CanCompressBatch = false
	_, err := env.svc.RunBatch(context.Background(), perms, []string{f.ID}, OperationCompress, Params{})
	var apiErr *Error
	if !asAPIError(err, &apiErr) || apiErr.Code != CodePermissionDenied {
		t.Fatalf("error = %v, want %s", err, CodePermissionDenied)
	}
	state, _ := env.svc.reg.Get(f.ID)
	if state.Status != files.StatusWaiting {
		t.Errorf("status = %q, want waiting (denied batch must not mutate)", state.Status)
	}
}

func TestBatchCompressSummary(t *testing.T) {
	env := newTestEnv(t)
	env.pdf.outputBytes = []byte("tiny")
	a := env.addFile(t, "a.pdf", "application/pdf", bytes.Repeat([]byte("a"), 100))
	b := env.addFile(t, "broken.pdf", "application/pdf", bytes.Repeat([]byte("b"), 100))
	c := env.addFile(t, "c.pdf", "application/pdf", bytes.Repeat([]byte("c"), 100))
	env.pdf.failOn = "broken.pdf"

	result, err := env.svc.RunBatch(context.Background(), fullPerms(),
		[]string{a.ID, b.ID, c.ID}, OperationCompress, Params{Level: CompressionLight})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if result.Summary == nil {
		t.Fatal("summary is nil")
	}
	if result.Summary.AttemptedCount != 3 {
		t.Errorf("attempted = %d, want 3", result.Summary.AttemptedCount)
	}
	if result.Summary.SuccessCount != 2 {
		t.Errorf("success = %d, want 2", result.Summary.SuccessCount)
	}
	if result.Summary.TotalOriginalBytes != 200 {
		t.Errorf("totalOriginal = %d, want 200 (failed job excluded)", result.Summary.TotalOriginalBytes)
	}
	if result.Summary.SavedPercent == nil {
		t.Error("savedPercent should be present when totalOriginal > 0")
	}

	failed, _ := env.svc.reg.Get(b.ID)
	if failed.Status != files.StatusError {
		t.Errorf("failed job status = %q, want error", failed.Status)
	}
}

func TestBatchSelectsOnlyWaitingJobs(t *testing.T) {
	env := newTestEnv(t)
	env.pdf.outputBytes = []byte("tiny")
	a := env.addFile(t, "a.pdf", "application/pdf", bytes.Repeat([]byte("a"), 100))
	b := env.addFile(t, "b.pdf", "application/pdf", bytes.Repeat([]byte("b"), 100))
	env.svc.reg.SetProcessing(b.ID)
	env.svc.reg.SetDone(b.ID, b.SourcePath, 50)

	result, err := env.svc.RunBatch(context.Background(), fullPerms(),
		[]string{a.ID, b.ID}, OperationCompress, Params{Level: CompressionLight})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if result.Summary.AttemptedCount != 1 {
		t.Errorf("attempted = %d, want 1 (done job not re-run)", result.Summary.AttemptedCount)
	}
}

func TestBatchEmptySelectionIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	result, err := env.svc.RunBatch(context.Background(), fullPerms(), nil, OperationCompress, Params{})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if len(result.Jobs) != 0 || result.Summary != nil {
		t.Errorf("empty selection should be a quiet no-op, got %+v", result)
	}
}

func TestSummarizeSuppressesPercentAtZeroOriginal(t *testing.T) {
	summary := Summarize([]files.File{
		{Status: files.StatusDone, OriginalSize: 0, DerivedSize: 0},
	}, 1)
	if summary.SavedPercent != nil {
		t.Error("savedPercent must be omitted when total original size is zero")
	}
	if summary.SuccessCount != 1 {
		t.Errorf("success = %d, want 1", summary.SuccessCount)
	}
}

func TestQuickExtractDoesNotMutateJob(t *testing.T) {
	env := newTestEnv(t)
	f := env.addFile(t, "doc.pdf", "application/pdf", []byte("%PDF doc"))
	env.pdf.pageCount = 8

	result, err := env.svc.QuickExtract(context.Background(), f.ID, "1-2")
	if err != nil {
		t.Fatalf("QuickExtract failed: %v", err)
	}
	state, _ := env.svc.reg.Get(f.ID)
	if state.Status != files.StatusWaiting {
		t.Errorf("status = %q, want waiting (quick extract is stateless)", state.Status)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if err := result.Cleanup(); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := os.Stat(result.OutputPath); !os.IsNotExist(err) {
		t.Error("cleanup must remove the temporary output")
	}
}

func TestArchiveDoneCollectsArtifacts(t *testing.T) {
	env := newTestEnv(t)
	env.pdf.outputBytes = []byte("tiny")
	a := env.addFile(t, "a.pdf", "application/pdf", bytes.Repeat([]byte("a"), 100))
	if _, err := env.svc.RunSingle(context.Background(), a.ID, OperationCompress, Params{Level: CompressionLight}, nil); err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	env.addFile(t, "pending.pdf", "application/pdf", []byte("%PDF pending"))

	result, err := env.svc.ArchiveDone(context.Background())
	if err != nil {
		t.Fatalf("ArchiveDone failed: %v", err)
	}
	defer result.Cleanup()
	if result.ResultKind != ResultKindZIP {
		t.Errorf("kind = %q, want zip", result.ResultKind)
	}
	if result.OutputSize == 0 {
		t.Error("zip should not be empty")
	}
}

func TestArchiveDoneWithoutArtifacts(t *testing.T) {
	env := newTestEnv(t)
	env.addFile(t, "pending.pdf", "application/pdf", []byte("%PDF pending"))

	_, err := env.svc.ArchiveDone(context.Background())
	var apiErr *Error
	if !asAPIError(err, &apiErr) || apiErr.Code != CodeInsufficientInputs {
		t.Fatalf("error = %v, want %s", err, CodeInsufficientInputs)
	}
}

func asAPIError(err error, target **Error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
