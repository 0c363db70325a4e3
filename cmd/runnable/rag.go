package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/agentstation/runnable/llm"
	"github.com/agentstation/runnable/rag"
)

var (
	indexContainer string
	indexPrefix    string
)

var indexCmd = &cobra.Command{
	Use:   "index [source...]",
	Short: "Load, split and index documents into the vector store",
	Long: `Each source is a file path or an http(s) URL. With --container, every
blob under --prefix in the Azure Storage container is indexed as well; the
connection string is read from AZURE_STORAGE_CONNECTION_STRING.`,
	Example: `  runnable index notes.txt https://example.com/post.html
  runnable index --container docs --prefix guides/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 0 && indexContainer == "" {
			return fmt.Errorf("nothing to index: pass sources or --container")
		}

		var docs []schema.Document
		for _, src := range args {
			loaded, err := rag.Load(ctx, src)
			if err != nil {
				return err
			}
			docs = append(docs, loaded...)
		}
		if indexContainer != "" {
			client, err := rag.NewBlobClient(os.Getenv("AZURE_STORAGE_CONNECTION_STRING"))
			if err != nil {
				return err
			}
			loaded, err := rag.BlobSource{Client: client, Container: indexContainer, Prefix: indexPrefix}.Load(ctx)
			if err != nil {
				return err
			}
			docs = append(docs, loaded...)
		}

		chunks, err := rag.Split(docs, current.cfg.RAG.ChunkSize, current.cfg.RAG.ChunkOverlap)
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		ids, err := rag.Index(ctx, store, chunks)
		if err != nil {
			return err
		}

		current.logger.Info(ctx, "indexed", "documents", len(docs), "chunks", len(ids), "collection", current.cfg.RAG.Collection)
		return printResult(cmd.OutOrStdout(), output, map[string]any{
			"documents":  len(docs),
			"chunks":     len(ids),
			"collection": current.cfg.RAG.Collection,
		})
	},
}

var askCmd = &cobra.Command{
	Use:     "ask <question>",
	Short:   "Answer a question from the indexed documents",
	Example: `  runnable ask "What do superheroes protect?"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := llm.Open(current.cfg.Model)
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}

		chain, err := rag.NewRetrievalChain(
			vectorstores.ToRetriever(store, current.cfg.RAG.TopK),
			model,
			rag.WithModelOptions(llm.WithTemperature(current.cfg.Model.Temperature)),
			rag.WithNodeOptions(current.nodeOptions()...),
		)
		if err != nil {
			return err
		}

		answer, err := chain.Invoke(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), output, answer)
	},
}

// openStore opens the configured collection with the model's embedder.
func openStore() (vectorstores.VectorStore, error) {
	model, err := llm.Open(current.cfg.Model)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.Embedder(model)
	if err != nil {
		return nil, err
	}
	return rag.NewChroma(current.cfg.RAG, embedder)
}

func init() {
	indexCmd.Flags().StringVar(&indexContainer, "container", "", "Azure Storage container to index")
	indexCmd.Flags().StringVar(&indexPrefix, "prefix", "", "Blob name prefix within --container")
	rootCmd.AddCommand(indexCmd, askCmd)
}
