package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	brandloom "github.com/Brandloom-AI/Brandloom/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// generate
	generateCampaign string
	generateType     string
	generateTone     string
	generateChannels string
	generateVariants int
	generateStream   bool
	generateJSON     bool
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&generateCampaign, "campaign", "", "Campaign ID to generate content for")
	generateCmd.Flags().StringVar(&generateType, "type", "social_post", "Content type (social_post, email, ad_copy, blog)")
	generateCmd.Flags().StringVar(&generateTone, "tone", "", "Desired tone of voice")
	generateCmd.Flags().StringVar(&generateChannels, "channels", "", "Comma-separated target channels")
	generateCmd.Flags().IntVar(&generateVariants, "variants", 1, "Number of variants to generate")
	generateCmd.Flags().BoolVar(&generateStream, "stream", false, "Stream the generated text as it arrives")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "Print the raw result as JSON")
}

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Generate marketing content",
	Long:  "Generate marketing content for the given topic using the Brandloom content engine.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic := args[0]
		client := getAPIClient()

		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		req := &brandloom.GenerationRequest{
			CampaignID: generateCampaign,
			Type:       generateType,
			Topic:      topic,
			Tone:       generateTone,
			Variants:   generateVariants,
		}
		if generateChannels != "" {
			req.Channels = strings.Split(generateChannels, ",")
		}

		if generateStream {
			return client.GenerateContentStream(ctx, req, func(chunk brandloom.GenerationChunk) {
				fmt.Print(chunk.Delta)
				if chunk.Done {
					fmt.Println()
				}
			})
		}

		result, err := client.GenerateContent(ctx, req)
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}

		if generateJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for i, v := range result.Variants {
			if len(result.Variants) > 1 {
				fmt.Printf("--- Variant %d ---\n", i+1)
			}
			if v.Title != "" {
				fmt.Println(v.Title)
			}
			fmt.Println(v.Body)
		}
		return nil
	},
}
