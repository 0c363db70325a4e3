package rag

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// BlobSource loads every blob under Prefix in an Azure Storage container.
// Blobs ending in .html or .htm are reduced to their text.
type BlobSource struct {
	Client    *azblob.Client
	Container string
	Prefix    string
}

var _ documentloaders.Loader = BlobSource{}

// NewBlobClient creates a client from a storage connection string. Plain
// HTTP endpoints, such as a local Azurite, are allowed.
func NewBlobClient(connectionString string) (*azblob.Client, error) {
	var opts *azblob.ClientOptions
	if strings.Contains(strings.ToLower(connectionString), "blobendpoint=http://") {
		opts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return client, nil
}

// Load implements documentloaders.Loader.
func (s BlobSource) Load(ctx context.Context) ([]schema.Document, error) {
	var opts *azblob.ListBlobsFlatOptions
	if s.Prefix != "" {
		opts = &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(s.Prefix)}
	}

	var docs []schema.Document
	pager := s.Client.NewListBlobsFlatPager(s.Container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs in %s: %w", s.Container, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			loaded, err := s.load(ctx, *item.Name)
			if err != nil {
				return nil, err
			}
			docs = append(docs, loaded...)
		}
	}
	return docs, nil
}

func (s BlobSource) load(ctx context.Context, name string) ([]schema.Document, error) {
	resp, err := s.Client.DownloadStream(ctx, s.Container, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", name, err)
	}
	defer resp.Body.Close()

	ext := strings.ToLower(path.Ext(name))
	docs, err := loader(resp.Body, ext == ".html" || ext == ".htm").Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load blob %s: %w", name, err)
	}
	return withSource(docs, s.Container+"/"+name), nil
}

// LoadAndSplit implements documentloaders.Loader.
func (s BlobSource) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}
