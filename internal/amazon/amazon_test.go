package amazon_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/Lllllllleong/docbatch/internal/amazon"
	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"
)

// ─── Fakes ─────────────────────────────────────────────────────────────

// fakeS3 pages ListObjectsV2 two keys at a time.
type fakeS3 struct {
	objects    map[string][]byte
	deleteErr  error
	listCalls  int
	putContent string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	f.putContent = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls++
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

type fakeTextract struct {
	analysis  []*textract.StartDocumentAnalysisInput
	detection []*textract.StartDocumentTextDetectionInput
	status    types.JobStatus
	message   string
}

func (f *fakeTextract) StartDocumentAnalysis(_ context.Context, in *textract.StartDocumentAnalysisInput, _ ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error) {
	f.analysis = append(f.analysis, in)
	return &textract.StartDocumentAnalysisOutput{JobId: aws.String("a-1")}, nil
}

func (f *fakeTextract) StartDocumentTextDetection(_ context.Context, in *textract.StartDocumentTextDetectionInput, _ ...func(*textract.Options)) (*textract.StartDocumentTextDetectionOutput, error) {
	f.detection = append(f.detection, in)
	return &textract.StartDocumentTextDetectionOutput{JobId: aws.String("t-1")}, nil
}

func (f *fakeTextract) GetDocumentAnalysis(_ context.Context, in *textract.GetDocumentAnalysisInput, _ ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error) {
	return &textract.GetDocumentAnalysisOutput{JobStatus: f.status, StatusMessage: aws.String(f.message)}, nil
}

func (f *fakeTextract) GetDocumentTextDetection(_ context.Context, in *textract.GetDocumentTextDetectionInput, _ ...func(*textract.Options)) (*textract.GetDocumentTextDetectionOutput, error) {
	return &textract.GetDocumentTextDetectionOutput{JobStatus: f.status, StatusMessage: aws.String(f.message)}, nil
}

// ─── S3Store ───────────────────────────────────────────────────────────

func TestS3Store_RoundTripAndPaging(t *testing.T) {
	fake := newFakeS3()
	store := amazon.NewS3Store(fake)
	ctx := context.Background()

	loc, err := store.Put(ctx, "b", "textract-temp/1-a.pdf", []byte("%PDF"), "application/pdf")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if loc.URI != "s3://b/textract-temp/1-a.pdf" || fake.putContent != "application/pdf" {
		t.Fatalf("loc = %+v content-type = %s", loc, fake.putContent)
	}
	for i := 1; i <= 5; i++ {
		fake.objects[fmt.Sprintf("out/job/%d", i)] = []byte("{}")
	}

	var names []string
	for name, err := range store.List(ctx, "b", "out/") {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		names = append(names, name)
	}
	if len(names) != 5 || fake.listCalls != 3 {
		t.Fatalf("names = %v after %d calls", names, fake.listCalls)
	}

	data, err := store.Get(ctx, "b", "textract-temp/1-a.pdf")
	if err != nil || string(data) != "%PDF" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if err := store.Delete(ctx, "b", "textract-temp/1-a.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "b", "textract-temp/1-a.pdf"); !amazon.IsNotFound(err) {
		t.Fatalf("expected NoSuchKey after delete, got %v", err)
	}
}

func TestS3Store_DeleteErrors(t *testing.T) {
	fake := newFakeS3()
	fake.deleteErr = &smithy.GenericAPIError{Code: "NoSuchKey"}
	if err := amazon.NewS3Store(fake).Delete(context.Background(), "b", "gone"); err != nil {
		t.Fatalf("missing key should not fail: %v", err)
	}
	fake.deleteErr = &smithy.GenericAPIError{Code: "AccessDenied"}
	if err := amazon.NewS3Store(fake).Delete(context.Background(), "b", "k"); err == nil {
		t.Fatal("expected AccessDenied to surface")
	}
}

// ─── TextractInvoker ───────────────────────────────────────────────────

func submitRequest(f batch.Features) batch.SubmitRequest {
	return batch.SubmitRequest{
		Input:    batch.StagingLocation{Bucket: "b", Key: "textract-temp/1-a.pdf", URI: "s3://b/textract-temp/1-a.pdf"},
		Output:   batch.StagingLocation{Bucket: "b", Key: "textract-output/1-a/", URI: "s3://b/textract-output/1-a/"},
		MIMEType: "application/pdf",
		Features: f,
	}
}

func TestTextract_SubmitChoosesOperation(t *testing.T) {
	fake := &fakeTextract{}
	inv := amazon.NewTextractInvoker(fake)
	ctx := context.Background()

	h, err := inv.Submit(ctx, submitRequest(batch.Features{}))
	if err != nil || h.Operation != amazon.OperationText || h.ID != "t-1" {
		t.Fatalf("text detection handle = %+v, %v", h, err)
	}
	if got := aws.ToString(fake.detection[0].OutputConfig.S3Prefix); got != "textract-output/1-a" {
		t.Fatalf("output prefix = %q", got)
	}

	h, err = inv.Submit(ctx, submitRequest(batch.Features{Layout: true, Tables: true}))
	if err != nil || h.Operation != amazon.OperationAnalysis {
		t.Fatalf("analysis handle = %+v, %v", h, err)
	}
	want := []types.FeatureType{types.FeatureTypeLayout, types.FeatureTypeTables}
	if got := fake.analysis[0].FeatureTypes; !reflect.DeepEqual(got, want) {
		t.Fatalf("features = %v", got)
	}
	if got := aws.ToString(fake.analysis[0].DocumentLocation.S3Object.Name); got != "textract-temp/1-a.pdf" {
		t.Fatalf("document = %q", got)
	}
}

func TestTextract_RejectsUnsupportedFormat(t *testing.T) {
	fake := &fakeTextract{}
	req := submitRequest(batch.Features{})
	req.MIMEType = "image/gif"
	if _, err := amazon.NewTextractInvoker(fake).Submit(context.Background(), req); !errors.Is(err, batch.ErrUnsupportedFormat) {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
	if len(fake.detection)+len(fake.analysis) != 0 {
		t.Fatal("job started for unsupported format")
	}
}

func TestTextract_Status(t *testing.T) {
	fake := &fakeTextract{}
	inv := amazon.NewTextractInvoker(fake)
	cases := []struct {
		status types.JobStatus
		want   batch.JobStatus
	}{
		{types.JobStatusInProgress, batch.StatusRunning},
		{types.JobStatusSucceeded, batch.StatusSucceeded},
		{types.JobStatusPartialSuccess, batch.StatusSucceeded},
		{types.JobStatusFailed, batch.StatusFailed},
	}
	for _, tc := range cases {
		fake.status, fake.message = tc.status, "msg"
		for _, op := range []string{amazon.OperationAnalysis, amazon.OperationText} {
			st, err := inv.Status(context.Background(), batch.JobHandle{ID: "j", Operation: op})
			if err != nil || st.Status != tc.want {
				t.Errorf("%s/%s = %+v, %v", op, tc.status, st, err)
			}
		}
	}
	if _, err := inv.Status(context.Background(), batch.JobHandle{ID: "j"}); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestIsResultPage(t *testing.T) {
	for name, want := range map[string]bool{
		"textract-output/1-a/job/1":                true,
		"textract-output/1-a/job/12":               true,
		"textract-output/1-a/job/.s3_access_check": false,
		"textract-output/1-a/job/1.json":           false,
		"textract-output/1-a/":                     false,
	} {
		if got := amazon.IsResultPage(name); got != want {
			t.Errorf("IsResultPage(%q) = %t", name, got)
		}
	}
}
