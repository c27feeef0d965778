package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/n0roo/session-etl/internal/lock"
)

var (
	lockForce bool
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "슬롯 Lock 관리",
	Long: `DAG 슬롯 Lock을 관리합니다.

Lock 리소스는 "<dag>@<slot>" 형식이며 실행 중에만 유지됩니다.
프로세스가 강제 종료되어 남은 Lock은 release 또는 clear로 정리합니다.`,
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <resource>",
	Short: "Lock 해제",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockRelease,
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "활성 Lock 목록",
	RunE:  runLockList,
}

var lockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "모든 Lock 정리",
	RunE:  runLockClear,
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockReleaseCmd)
	lockCmd.AddCommand(lockListCmd)
	lockCmd.AddCommand(lockClearCmd)

	lockClearCmd.Flags().BoolVar(&lockForce, "force", false, "강제 실행")
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	resource := args[0]

	svc, cleanup, err := getLockService()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Release(resource); err != nil {
		if errors.Is(err, lock.ErrNotLocked) {
			return fmt.Errorf("Lock이 없습니다: %s", resource)
		}
		return err
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"status":   "released",
			"resource": resource,
		})
	} else {
		fmt.Printf("✓ Lock 해제: %s\n", resource)
	}

	return nil
}

func runLockList(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := getLockService()
	if err != nil {
		return err
	}
	defer cleanup()

	locks, err := svc.List()
	if err != nil {
		return err
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"locks": locks,
		})
		return nil
	}

	if len(locks) == 0 {
		fmt.Println("활성 Lock이 없습니다.")
		return nil
	}

	fmt.Printf("%-40s %-38s %s\n", "RESOURCE", "RUN", "ACQUIRED")
	fmt.Println("--------------------------------------------------------------------------------------------")
	for _, l := range locks {
		fmt.Printf("%-40s %-38s %s\n", l.Resource, l.Owner, l.AcquiredAt.UTC().Format(time.RFC3339))
	}

	return nil
}

func runLockClear(cmd *cobra.Command, args []string) error {
	if !lockForce {
		return fmt.Errorf("--force 플래그가 필요합니다")
	}

	svc, cleanup, err := getLockService()
	if err != nil {
		return err
	}
	defer cleanup()

	count, err := svc.Clear()
	if err != nil {
		return err
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status":  "cleared",
			"removed": count,
		})
	} else {
		fmt.Printf("✓ %d개의 Lock 정리됨\n", count)
	}

	return nil
}
