// Command raid-sim creates a batch of channels with a test bot and deletes
// them in a burst, so the channel guard can be watched end to end on a
// staging guild.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const channelPrefix = "raid-sim-"

func main() {
	guildID := flag.String("guild", "", "staging guild id")
	count := flag.Int("count", 5, "channels to create and then delete")
	delay := flag.Duration("delay", 100*time.Millisecond, "pause between creations")
	parallel := flag.Bool("parallel", true, "delete all channels at once instead of one by one")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	flag.Parse()

	token := os.Getenv("RAID_SIM_TOKEN")
	if token == "" || *guildID == "" || *count <= 0 {
		fmt.Fprintln(os.Stderr, "usage: RAID_SIM_TOKEN=<bot token> raid-sim -guild <id> [-count n] [-delay d] [-parallel] [-yes]")
		os.Exit(2)
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		fmt.Println("Error creating Discord session:", err)
		os.Exit(1)
	}

	fmt.Printf("📊 Raid simulation:\n")
	fmt.Printf("   - Guild ID: %s\n", *guildID)
	fmt.Printf("   - Channels: %d\n", *count)
	fmt.Printf("   - Creation delay: %v\n", *delay)
	fmt.Printf("   - Parallel deletion: %v\n", *parallel)

	if !*yes {
		fmt.Println("\n⚠️  This deletes channels and should trigger the channel guard.")
		fmt.Print("   Press Enter to continue...")
		_, _ = bufio.NewReader(os.Stdin).ReadBytes('\n')
	}

	ids := createChannels(dg, *guildID, *count, *delay)
	if len(ids) == 0 {
		fmt.Println("❌ No channels were created, nothing to delete")
		os.Exit(1)
	}
	deleteChannels(dg, ids, *parallel)
	countSurvivors(dg, *guildID)
}

func createChannels(dg *discordgo.Session, guildID string, count int, delay time.Duration) []string {
	fmt.Printf("\n🔄 Creating %d channels...\n", count)
	var ids []string
	for i := 0; i < count; i++ {
		ch, err := dg.GuildChannelCreate(guildID, fmt.Sprintf("%s%d", channelPrefix, i+1), discordgo.ChannelTypeGuildText)
		if err != nil {
			fmt.Printf("❌ Error creating channel %d: %v\n", i+1, err)
		} else {
			fmt.Printf("✅ Created channel: %s (ID: %s)\n", ch.Name, ch.ID)
			ids = append(ids, ch.ID)
		}
		time.Sleep(delay)
	}
	return ids
}

func deleteChannels(dg *discordgo.Session, ids []string, parallel bool) {
	fmt.Printf("\n💥 Deleting %d channels...\n", len(ids))
	start := time.Now()

	var (
		mu         sync.Mutex
		successful int
		failed     int
		wg         sync.WaitGroup
	)
	del := func(idx int, id string) {
		_, err := dg.ChannelDelete(id)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			fmt.Printf("❌ Failed #%d: %v\n", idx+1, err)
			return
		}
		successful++
		fmt.Printf("✅ Deleted #%d\n", idx+1)
	}

	for i, id := range ids {
		if !parallel {
			del(i, id)
			continue
		}
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			del(i, id)
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("\n📊 Results:\n")
	fmt.Printf("   - Successful: %d\n", successful)
	fmt.Printf("   - Failed: %d\n", failed)
	fmt.Printf("   - Total time: %v\n", elapsed)
	if failed > 0 {
		fmt.Println("   - Failures after the first few deletions usually mean the guard already stripped the bot")
	}
}

// countSurvivors waits for the guard to respond and reports which of the
// simulated channels were recreated
func countSurvivors(dg *discordgo.Session, guildID string) {
	fmt.Println("\n⏳ Waiting 10s for the guard to respond...")
	time.Sleep(10 * time.Second)

	channels, err := dg.GuildChannels(guildID)
	if err != nil {
		fmt.Printf("❌ Error fetching channels (the test bot may have been removed): %v\n", err)
		return
	}
	restored := 0
	for _, ch := range channels {
		if strings.HasPrefix(ch.Name, channelPrefix) {
			restored++
		}
	}
	fmt.Printf("🛡️  %d simulated channels present after the burst\n", restored)
}
