package pmtiles

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
)

// Upload streams the local archive at input to key inside bucket (a
// gocloud.dev/blob URL, e.g. "s3://my-bucket" or "gs://my-bucket").
// maxConcurrency bounds how many concurrent part uploads gocloud's blob
// writer is allowed to issue for providers that support multipart uploads.
func Upload(logger *log.Logger, input string, bucket string, key string, maxConcurrency int) error {
	ctx := context.Background()

	file, err := os.Open(input)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	b, err := blob.OpenBucket(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to open bucket %s, %w", bucket, err)
	}
	defer b.Close()

	writer, err := b.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType:    "application/octet-stream",
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		return fmt.Errorf("failed to open writer for %s, %w", key, err)
	}

	bar := getProgressWriter().NewBytesProgress(info.Size(), fmt.Sprintf("uploading %s", key))
	if _, err := io.Copy(io.MultiWriter(writer, bar), file); err != nil {
		writer.Close()
		bar.Close()
		return fmt.Errorf("failed to upload %s, %w", key, err)
	}
	bar.Close()

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload of %s, %w", key, err)
	}

	logger.Printf("uploaded %s (%d bytes) to %s/%s with up to %d concurrent parts", input, info.Size(), bucket, key, maxConcurrency)
	return nil
}
