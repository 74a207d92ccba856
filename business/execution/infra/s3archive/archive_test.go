package s3archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arb "github.com/fd1az/triarb/business/arbitrage/domain"
	"github.com/fd1az/triarb/business/execution/domain"
	"github.com/fd1az/triarb/internal/apperror"
)

type fakeS3 struct {
	puts map[string][]byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.err
}

func sampleResult() *domain.ExecutionResult {
	opp := &arb.Opportunity{
		ID:          "opp-1",
		Path:        arb.TriangularPath{ID: "usdt-eth-btc", StartCurrency: "USDT"},
		StartAmount: decimal.NewFromInt(1000),
	}
	at := time.Date(2026, 3, 1, 23, 59, 0, 0, time.FixedZone("SAST", 2*3600))
	res := domain.NewResult("exec-1", opp, "acct", true, at)
	res.Finalize(domain.StateFailed, nil, at)
	return res
}

func TestArchiveSaveExecution(t *testing.T) {
	fake := &fakeS3{}
	a := NewWithClient(fake, "bucket", "/executions/")
	res := sampleResult()

	require.NoError(t, a.SaveExecution(context.Background(), res))

	key := "bucket/executions/2026/03/01/exec-1.json"
	require.Contains(t, fake.puts, key)
	var decoded domain.ExecutionResult
	require.NoError(t, json.Unmarshal(fake.puts[key], &decoded))
	assert.Equal(t, "exec-1", decoded.ID)
	assert.Equal(t, domain.StateFailed, decoded.State)
	assert.Equal(t, "1000", decoded.StartAmount.String())
	require.NoError(t, a.Ping(context.Background()))
}

func TestArchiveWrapsUploadErrors(t *testing.T) {
	a := NewWithClient(&fakeS3{err: errors.New("denied")}, "bucket", "")
	err := a.SaveExecution(context.Background(), sampleResult())
	assert.True(t, apperror.HasCode(err, apperror.CodeStorageError))
}
