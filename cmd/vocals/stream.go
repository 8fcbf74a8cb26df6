package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rojolang/vocals-duplex-go/pkg/vocals"
	"github.com/rojolang/vocals-duplex-go/pkg/vocals/device"
)

type audioFlags struct {
	file     string
	realtime bool
	deviceID int
	duration time.Duration
}

func (f *audioFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "16-bit PCM WAV file (default: microphone)")
	cmd.Flags().BoolVar(&f.realtime, "realtime", false, "Pace file input at playback speed")
	cmd.Flags().IntVar(&f.deviceID, "device", -1, "Input device ID (default: system default)")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop sending after this much audio")
}

// open returns the capture source the flags select.
func (f *audioFlags) open(config *vocals.VocalsConfig) (vocals.CaptureSource, error) {
	if f.file != "" {
		src, err := vocals.OpenWAVSource(f.file, config.ChunkSize)
		if err != nil {
			return nil, err
		}
		config.SampleRate = src.Format.SampleRate
		config.Channels = src.Format.Channels
		if !f.realtime {
			return src, nil
		}
		return vocals.NewPacedSource(src, vocals.ChunkInterval(config.ChunkSize, config.SampleRate, config.Channels)), nil
	}

	opts := device.MicrophoneOptions{
		SampleRate:     config.SampleRate,
		Channels:       config.Channels,
		FramesPerChunk: config.ChunkSize / (2 * config.Channels),
	}
	if f.deviceID >= 0 {
		opts.DeviceID = &f.deviceID
	} else if config.AudioDeviceID != nil {
		opts.DeviceID = config.AudioDeviceID
	}
	return device.OpenMicrophone(opts)
}

func (f *audioFlags) limit(cfg *vocals.ControllerConfig) {
	if f.duration > 0 {
		cfg.MaxDuration = f.duration
	}
}

func transcribeCmd() *cobra.Command {
	var af audioFlags
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Transcribe speech from a file or the microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			src, err := af.open(client.Config())
			if err != nil {
				return err
			}
			collector := vocals.NewTranscriptCollector()
			cfg := client.Config().ControllerConfig(vocals.ServiceTranscribe)
			af.limit(&cfg)
			res, err := client.Run(cmd.Context(), cfg, src, outputHandler(collector.Handler()))
			printResult(res)
			if err != nil {
				return err
			}
			if !jsonDump {
				fmt.Println(collector.Transcript())
			}
			return nil
		},
	}
	af.register(cmd)
	return cmd
}

func enrollCmd() *cobra.Command {
	var af audioFlags
	var userID string
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a voice print",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			src, err := af.open(client.Config())
			if err != nil {
				return err
			}
			cfg := client.Config().ControllerConfig(vocals.ServiceEnroll)
			cfg.Stream.UserID = userID
			cfg.RequireCompletion = true
			af.limit(&cfg)

			progress := vocals.CreateProgressHandler(func(p float64) {
				if !jsonDump {
					fmt.Printf("\renrollment %5.1f%%", p)
				}
			})
			res, err := client.Run(cmd.Context(), cfg, src, outputHandler(progress))
			if !jsonDump {
				fmt.Println()
			}
			printResult(res)
			if err != nil {
				return err
			}
			fmt.Printf("enrolled %s as %s\n", userID, vocals.EnrollmentID(res))
			return nil
		},
	}
	af.register(cmd)
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to enroll")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func authenticateCmd() *cobra.Command {
	var af audioFlags
	var userID, enrollmentID string
	var threshold float64
	cmd := &cobra.Command{
		Use:   "authenticate",
		Short: "Verify a speaker against an enrollment",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			src, err := af.open(client.Config())
			if err != nil {
				return err
			}
			cfg := client.Config().ControllerConfig(vocals.ServiceAuthenticate)
			cfg.Stream.UserID = userID
			cfg.Stream.EnrollmentID = enrollmentID
			cfg.Stream.SecurityLevel = threshold
			cfg.RequireCompletion = true
			af.limit(&cfg)

			res, err := client.Run(cmd.Context(), cfg, src, outputHandler(scorePrinter()))
			printResult(res)
			if err != nil {
				return err
			}
			return verdict(res, "authenticated", "not authenticated")
		},
	}
	af.register(cmd)
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to verify")
	cmd.Flags().StringVar(&enrollmentID, "enrollment-id", "", "Enrollment to verify against")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.8, "Security level")
	return cmd
}

func livenessCmd() *cobra.Command {
	var dir string
	var width, height int
	var fps float64
	cmd := &cobra.Command{
		Use:   "liveness",
		Short: "Check face liveness from a directory of frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			frames, err := vocals.NewImageDirSource(dir, width, height)
			if err != nil {
				return err
			}
			var src vocals.CaptureSource = frames
			if fps > 0 {
				src = vocals.NewPacedSource(frames, time.Duration(float64(time.Second)/fps))
			}
			res, err := client.CheckLiveness(cmd.Context(), width, height, src, outputHandler(scorePrinter()))
			printResult(res)
			if err != nil {
				return err
			}
			return verdict(res, "live", "not live")
		},
	}
	cmd.Flags().StringVar(&dir, "images", "", "Directory of JPEG/PNG frames")
	cmd.Flags().IntVar(&width, "width", 640, "Frame width")
	cmd.Flags().IntVar(&height, "height", 480, "Frame height")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Frames per second (0: as fast as possible)")
	_ = cmd.MarkFlagRequired("images")
	return cmd
}

func synthesizeCmd() *cobra.Command {
	var voice, out string
	var play bool
	cmd := &cobra.Command{
		Use:   "synthesize TEXT",
		Short: "Synthesize speech",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			sink, err := vocals.NewAudioSink("", 0, 24000)
			if err != nil {
				return err
			}
			handlers := []vocals.EventHandler{sink.Handler()}
			if play {
				speaker, err := device.OpenSpeaker(device.SpeakerOptions{SampleRate: 24000})
				if err != nil {
					return err
				}
				defer speaker.Close()
				handlers = append(handlers, speaker.Handler())
			}

			res, err := client.Synthesize(cmd.Context(), strings.Join(args, " "), voice, outputHandler(handlers...))
			printResult(res)
			if err != nil {
				return err
			}
			if out != "" {
				if err := sink.WriteWAV(out); err != nil {
					return err
				}
				stats := sink.GetStats()
				fmt.Printf("wrote %s (%s of audio)\n", out, stats.TotalDuration.Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "Voice name")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the audio to this WAV file")
	cmd.Flags().BoolVar(&play, "play", false, "Play the audio as it arrives")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat over one session, one stdin line per message",
		Long: "Each non-empty stdin line is sent as one message and the reply to it is printed as it streams.\n" +
			"The session ends at end of input.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			printer := func(ev vocals.ResponseEvent) bool {
				if e, ok := ev.(*vocals.PartialEvent); ok && !jsonDump {
					fmt.Print(e.Text)
					if e.TurnEnd {
						fmt.Println()
					}
				}
				return false
			}
			res, err := client.Chat(cmd.Context(), vocals.NewLineSource(os.Stdin), outputHandler(printer))
			printResult(res)
			return err
		},
	}
}

func scorePrinter() vocals.EventHandler {
	return vocals.CreateScoreHandler(func(score float64, final, success bool) {
		if jsonDump {
			return
		}
		if final {
			fmt.Printf("final score %.3f (success: %t)\n", score, success)
		} else {
			fmt.Printf("score %.3f\n", score)
		}
	})
}

func verdict(res *vocals.RunResult, yes, no string) error {
	if res.Succeeded() {
		fmt.Println(yes)
		return nil
	}
	return vocals.NewAuthError(no).AddDetail("session_id", res.SessionID)
}
