package media

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/shipsync/offline-sync/internal/errs"
)

// AzureOrigin wraps azure-sdk-for-go's azblob client as a media Origin, the
// alternate provider selected by media.provider: azure (§4.12 [EXPANDED]),
// grounded on the teacher's ais/backend/azure.go shared-key auth shape.
type AzureOrigin struct {
	client    *container.Client
	container string
}

func NewAzureOrigin(accountURL, accountName, accountKey, containerName string) (*AzureOrigin, error) {
	creds, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, errs.Config("building azure shared key credential", err)
	}
	svc, err := azblob.NewClientWithSharedKeyCredential(accountURL, creds, nil)
	if err != nil {
		return nil, errs.Config("building azure service client", err)
	}
	return &AzureOrigin{client: svc.ServiceClient().NewContainerClient(containerName), container: containerName}, nil
}

func (o *AzureOrigin) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	pager := o.client.NewListBlobsFlatPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errs.Transient("listing azure blobs", err)
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil {
				continue
			}
			var size int64
			if blob.Properties != nil && blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			var etag string
			if blob.Properties != nil && blob.Properties.ETag != nil {
				etag = strings.Trim(string(*blob.Properties.ETag), `"`)
			}
			out = append(out, ObjectInfo{Key: *blob.Name, Size: size, ETag: etag})
		}
	}
	return out, nil
}

func (o *AzureOrigin) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := o.client.NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		return nil, errs.Transient("fetching azure blob "+key, err)
	}
	return resp.Body, nil
}
