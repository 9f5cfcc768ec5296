package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quizroom-service/internal/auth"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
)

// NewTokenCmd mints a session token for local use, standing in for the
// passkey service.
func NewTokenCmd(configPath *string) *cobra.Command {
	var (
		name  string
		owns  []string
		ttl   time.Duration
		subID string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth secret not configured")
			}
			token, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, ttl).Issue(domain.Identity{
				ParticipantID: subID,
				Name:          name,
				OwnedRooms:    owns,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subID, "participant", "", "participant id (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&owns, "owns", nil, "room ids the participant may open as owner")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}
